package usecase

import (
	"errors"

	"github.com/example/facewatch/internal/repository"
)

// Failure kinds reported to callers, matched with errors.Is. Errors matching
// none of them are unexpected infrastructure failures.
var (
	ErrNoImageProvided       = errors.New("no image provided")
	ErrImageDecodeFailure    = errors.New("failed to decode image")
	ErrNoFaceDetected        = errors.New("no face detected in image")
	ErrMultipleFacesDetected = errors.New("multiple faces detected, please use an image with a single face")
	ErrEncoderFailure        = errors.New("face encoder failed")
	ErrInvalidName           = repository.ErrInvalidName
)

// IsClientError reports whether err was caused by the request rather than by
// the service or its collaborators.
func IsClientError(err error) bool {
	for _, target := range []error{ErrNoImageProvided, ErrImageDecodeFailure, ErrNoFaceDetected, ErrMultipleFacesDetected, ErrInvalidName} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
