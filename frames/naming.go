package frames

import (
	"fmt"
	"image"
	"path"
	"path/filepath"
	"strconv"
	"time"
)

// Naming builds the staging layout shared by records and archives:
//
//	{Root}/{UploadType}/{StoreID}/{CameraID}/{year}/{month}/{day}/{hour}/...
//
// Calendar components are unpadded and taken in UTC.
type Naming struct {
	Root       string
	UploadType string
	StoreID    string
	CameraID   string
}

// Prefix returns the remote key prefix "{UploadType}/{StoreID}/{CameraID}"
func (n Naming) Prefix() string {
	return path.Join(n.UploadType, n.StoreID, n.CameraID)
}

// HourKey returns the remote key of the hour bucket that t falls into
func (n Naming) HourKey(t time.Time) string {
	t = t.UTC()
	return path.Join(n.Prefix(),
		strconv.Itoa(t.Year()),
		strconv.Itoa(int(t.Month())),
		strconv.Itoa(t.Day()),
		strconv.Itoa(t.Hour()),
	)
}

// LocalPath maps a remote key onto the staging root
func (n Naming) LocalPath(remoteKey string) string {
	return filepath.Join(n.Root, filepath.FromSlash(remoteKey))
}

func (n Naming) baseName(now time.Time, frameNo int, format Format) string {
	// {timestamp}_{cameraId}_{storeId}_{frameNo}.{ext}
	return fmt.Sprintf("%d_%s_%s_%d.%s", now.Unix(), n.CameraID, n.StoreID, frameNo, format.Extension())
}

// TrackPath returns the staging path of one track crop:
// .../{hour}/{trackId}_{x1}-{y1}-{x2}-{y2}_{timestamp}_{cameraId}_{storeId}_{frameNo}.{ext}
func (n Naming) TrackPath(now time.Time, frameNo int, trackID int, box image.Rectangle, format Format) string {
	name := fmt.Sprintf("%d_%d-%d-%d-%d_%s", trackID,
		box.Min.X, box.Min.Y, box.Max.X, box.Max.Y,
		n.baseName(now, frameNo, format))
	return n.LocalPath(path.Join(n.HourKey(now), name))
}

// FramePath returns the staging path of a full frame: .../{hour}/full/{base}
func (n Naming) FramePath(now time.Time, frameNo int, format Format) string {
	return n.LocalPath(path.Join(n.HourKey(now), "full", n.baseName(now, frameNo, format)))
}

// ArchiveKey returns the remote key of the archive for a window starting at start:
// {UploadType}/{StoreID}/{CameraID}/{year}/{month}/{day}/{hour}/{minute}.zip
func (n Naming) ArchiveKey(start time.Time) string {
	return path.Join(n.HourKey(start), fmt.Sprintf("%d.zip", start.UTC().Minute()))
}
