// Package imaging decodes uploaded images and prepares them for the encoder
// and the dashboard.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ThumbnailSize is the longest side of dashboard thumbnails.
const ThumbnailSize = 150

const jpegQuality = 90

// ErrEmptyImage is returned for zero-length input.
var ErrEmptyImage = errors.New("empty image")

// Decoded is a validated image together with the bytes the encoder should see.
type Decoded struct {
	Image  image.Image
	Format string
	Width  int
	Height int
	// Raw is the original upload for JPEG and PNG, and a JPEG re-encoding of
	// every other format, since encoders are only required to read those two.
	Raw []byte
}

// Size formats the dimensions as "WxH".
func (d *Decoded) Size() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Decode validates data as an image of any registered format.
func Decode(data []byte) (*Decoded, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	raw := data
	if format != "jpeg" && format != "png" {
		if raw, err = EncodeJPEG(img); err != nil {
			return nil, err
		}
	}

	bounds := img.Bounds()
	return &Decoded{
		Image:  img,
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Raw:    raw,
	}, nil
}

// DecodeBase64 decodes a base64 image payload. A data URL prefix
// ("data:image/png;base64,") is accepted and stripped.
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if i := strings.IndexByte(payload, ','); i >= 0 {
			payload = payload[i+1:]
		}
	}
	if payload == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Browsers and some clients drop the padding.
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); err != nil {
			return nil, fmt.Errorf("invalid base64 image: %w", err)
		}
	}
	return data, nil
}

// EncodeJPEG encodes img as JPEG.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales img so that its longest side is at most maxSize, keeping
// the aspect ratio, and returns it as JPEG.
func Thumbnail(img image.Image, maxSize int) ([]byte, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return EncodeJPEG(img)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return EncodeJPEG(resized)
}

// DataURL renders JPEG bytes as an inline data URL.
func DataURL(jpegData []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
}
