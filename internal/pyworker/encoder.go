package pyworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/logging"
)

// faceResult is one element of a successful worker reply.
type faceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec []float64 `json:"vec"`
}

// errorResult is the worker's reply when it could not process a frame.
type errorResult struct {
	Error string `json:"error"`
}

// Encoder adapts a Worker to faceencoder.Encoder.
type Encoder struct {
	worker *Worker
	logger *zap.Logger
}

// NewEncoder wraps a started worker.
func NewEncoder(worker *Worker, logger *zap.Logger) *Encoder {
	return &Encoder{worker: worker, logger: logger.Named("worker_face_encoder")}
}

// DetectAndEncode implements faceencoder.Encoder. The child process cannot be
// interrupted mid-frame, so ctx is only checked before the frame is sent.
func (e *Encoder) DetectAndEncode(ctx context.Context, image []byte) ([]faceencoder.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("pyworker.detect_and_encode", "", err)
	}

	reply, err := e.worker.Communicate(image)
	if err != nil {
		wrapped := logging.NewOperationError("pyworker.detect_and_encode", "", err)
		e.logger.Error("worker call failed", zap.Error(wrapped))
		return nil, wrapped
	}

	faces, err := parseReply(reply)
	if err != nil {
		wrapped := logging.NewOperationError("pyworker.parse_reply", "", err)
		e.logger.Error("malformed worker reply", zap.Error(wrapped))
		return nil, wrapped
	}
	return faces, nil
}

// Close stops the underlying worker.
func (e *Encoder) Close() error {
	return e.worker.Close()
}

func parseReply(reply []byte) ([]faceencoder.Face, error) {
	var results []faceResult
	if err := json.Unmarshal(reply, &results); err != nil {
		var failure errorResult
		if json.Unmarshal(reply, &failure) == nil && failure.Error != "" {
			return nil, errors.New(failure.Error)
		}
		return nil, fmt.Errorf("decode worker reply: %w", err)
	}

	faces := make([]faceencoder.Face, 0, len(results))
	for i, r := range results {
		box, err := faceencoder.BoxFromLocation(r.Loc)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, faceencoder.Face{Box: box, Encoding: faceencoder.Encoding(r.Vec)})
	}
	if err := faceencoder.Validate(faces); err != nil {
		return nil, err
	}
	return faces, nil
}
