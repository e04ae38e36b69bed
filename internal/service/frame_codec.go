package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFrameEncoding indicates the frame is not base64 image data.
var ErrInvalidFrameEncoding = errors.New("frame is not valid base64 image data")

// decodeFrame accepts raw base64 or a data URL such as "data:image/jpeg;base64,...".
func decodeFrame(frame string) ([]byte, error) {
	encoded := strings.TrimSpace(frame)
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 || !strings.Contains(encoded[:comma], ";base64") {
			return nil, ErrInvalidFrameEncoding
		}
		encoded = encoded[comma+1:]
	}
	if encoded == "" {
		return nil, ErrInvalidFrameEncoding
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrameEncoding, err)
		}
	}
	return decoded, nil
}
