package history

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

const (
	thumbEdge    = 150
	thumbQuality = 85
)

// Thumbnail downscales the image to fit 150x150 and encodes it as a JPEG
// data URI suitable for inline storage in a history entry.
func Thumbnail(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("nil image")
	}
	small := resize.Thumbnail(thumbEdge, thumbEdge, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
