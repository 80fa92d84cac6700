// Package faceencoder defines the contract of the external face detection and
// encoding capability, plus a caching decorator around it.
package faceencoder

import (
	"context"
	"errors"
	"fmt"
)

// Encoding is the fixed-length feature vector produced for one face.
type Encoding []float64

// BoundingBox locates a face in pixel coordinates.
type BoundingBox struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// BoxFromLocation builds a box from a [top, right, bottom, left] slice.
func BoxFromLocation(loc []int) (BoundingBox, error) {
	if len(loc) != 4 {
		return BoundingBox{}, fmt.Errorf("face location needs 4 coordinates, got %d", len(loc))
	}
	return BoundingBox{Top: loc[0], Right: loc[1], Bottom: loc[2], Left: loc[3]}, nil
}

// Face is one detected face.
type Face struct {
	Box      BoundingBox `json:"box"`
	Encoding Encoding    `json:"encoding"`
}

// Encoder detects faces in an encoded image (JPEG or PNG) and returns one
// encoding per face. An image without faces yields an empty slice, not an error.
type Encoder interface {
	DetectAndEncode(ctx context.Context, image []byte) ([]Face, error)
}

// ErrEmptyEncoding is returned by transports when a face arrives without a vector.
var ErrEmptyEncoding = errors.New("face has an empty encoding")

// Validate checks the faces returned by a transport before they reach the matcher.
func Validate(faces []Face) error {
	for i, f := range faces {
		if len(f.Encoding) == 0 {
			return fmt.Errorf("face %d: %w", i, ErrEmptyEncoding)
		}
		if i > 0 && len(f.Encoding) != len(faces[0].Encoding) {
			return fmt.Errorf("face %d: encoding length %d differs from %d", i, len(f.Encoding), len(faces[0].Encoding))
		}
	}
	return nil
}
