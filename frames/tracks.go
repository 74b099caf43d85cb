package frames

import (
	"fmt"
	"image"
	"time"
)

// FrameRecord builds the record for a full frame
func FrameRecord(naming Naming, img image.Image, now time.Time, frameNo int, format Format) (*Record, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &Record{
		DestinationPath: naming.FramePath(now, frameNo, format),
		Image:           img,
		Format:          format,
	}, nil
}

// TrackRecords builds one record per visible track.
// crops[i] is the crop for trackIDs[i] at boxes[i].
func TrackRecords(naming Naming, crops []image.Image, trackIDs []int, boxes []image.Rectangle, now time.Time, frameNo int, format Format) ([]*Record, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(crops) != len(trackIDs) || len(crops) != len(boxes) {
		return nil, fmt.Errorf("%w: %d crops, %d ids, %d boxes", ErrTrackMismatch, len(crops), len(trackIDs), len(boxes))
	}

	records := make([]*Record, 0, len(crops))
	for i, crop := range crops {
		records = append(records, &Record{
			DestinationPath: naming.TrackPath(now, frameNo, trackIDs[i], boxes[i], format),
			Image:           crop,
			Format:          format,
		})
	}
	return records, nil
}
