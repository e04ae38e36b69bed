package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// DataURLPrefix precedes the base64 body of every encoded frame.
const DataURLPrefix = "data:image/jpeg;base64,"

// EncodeJPEG scales img to width x height when both are positive and returns
// it as a JPEG data URL.
func EncodeJPEG(img image.Image, width, height, quality int) (string, error) {
	if img == nil {
		return "", errors.New("nil image")
	}
	if width > 0 && height > 0 {
		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			img = imaging.Resize(img, width, height, imaging.Linear)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", err
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
