package exporting

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"
)

// Transport delivers one export task to cloud storage
type Transport interface {
	Upload(ctx context.Context, task *Task) error
}

// httpTransport uploads archives to an ingest endpoint as multipart forms
type httpTransport struct {
	serverURL    string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewHTTPTransport creates a Transport posting to {serverURL}/api/exports with Basic auth
func NewHTTPTransport(serverURL, clientID, clientSecret string, timeout time.Duration) Transport {
	return &httpTransport{
		serverURL:    serverURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Upload sends the archive referenced by the task together with its bucket and key
func (s *httpTransport) Upload(ctx context.Context, task *Task) error {
	url := fmt.Sprintf("%s/api/exports", s.serverURL)

	data, err := os.ReadFile(task.LocalPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewNonRecoverableUploadError(fmt.Errorf("archive %s is gone: %w", task.LocalPath(), err))
		}
		return NewRecoverableUploadError(fmt.Errorf("failed to read archive: %w", err))
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"bucket":     task.Bucket,
		"key":        task.Key,
		"sequence":   strconv.FormatInt(task.Sequence, 10),
		"created_at": task.CreatedAt.UTC().Format(time.RFC3339),
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return NewNonRecoverableUploadError(fmt.Errorf("failed to write %s field: %w", name, err))
		}
	}

	part, err := writer.CreateFormFile("archive", path.Base(task.Key))
	if err != nil {
		return NewNonRecoverableUploadError(fmt.Errorf("failed to create form file: %w", err))
	}
	if _, err := part.Write(data); err != nil {
		return NewNonRecoverableUploadError(fmt.Errorf("failed to write archive data: %w", err))
	}
	if err := writer.Close(); err != nil {
		return NewNonRecoverableUploadError(fmt.Errorf("failed to close writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return NewNonRecoverableUploadError(fmt.Errorf("failed to create request: %w", err))
	}

	auth := base64.StdEncoding.EncodeToString([]byte(s.clientID + ":" + s.clientSecret))
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return NewRecoverableUploadError(fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &UploadError{
		IsRecoverable: isRecoverableStatus(resp.StatusCode),
		StatusCode:    resp.StatusCode,
		InnerError:    errors.New(string(body)),
	}
}

// client errors will not fix themselves, except throttling and timeouts
func isRecoverableStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500
}
