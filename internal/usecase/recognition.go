package usecase

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/imaging"
	"github.com/example/facewatch/internal/logging"
	"github.com/example/facewatch/internal/matcher"
	"github.com/example/facewatch/internal/registry"
	"github.com/example/facewatch/internal/repository"
	"github.com/example/facewatch/internal/resultlog"
)

// KnownFaces is the registry surface the use case depends on.
type KnownFaces interface {
	Reload(ctx context.Context, progress registry.ProgressFunc) error
	LookupAll() []registry.KnownFace
	Len() int
}

// FaceStore persists enrolled face images.
type FaceStore interface {
	Save(ctx context.Context, name string, jpegData []byte) (repository.Revision, error)
}

// Options tunes the use case. Zero values select the defaults.
type Options struct {
	Tolerance        float64
	DashboardResults int
}

// RecognitionUseCase owns the known-face registry and the result log and
// implements identification and enrollment on top of them.
type RecognitionUseCase struct {
	known          KnownFaces
	store          FaceStore
	encoder        faceencoder.Encoder
	results        *resultlog.Log
	tolerance      float64
	dashboardLimit int
	logger         *zap.Logger
	now            func() time.Time

	// enrollMu makes save plus reload atomic relative to other enrollments.
	enrollMu sync.Mutex
}

// NewRecognitionUseCase constructs the use case. It is created once at startup
// and shared by every request handler.
func NewRecognitionUseCase(known KnownFaces, store FaceStore, encoder faceencoder.Encoder, results *resultlog.Log, opts Options, logger *zap.Logger) *RecognitionUseCase {
	if !(opts.Tolerance > 0) {
		opts.Tolerance = matcher.DefaultTolerance
	}
	if opts.DashboardResults < 1 {
		opts.DashboardResults = 20
	}
	return &RecognitionUseCase{
		known:          known,
		store:          store,
		encoder:        encoder,
		results:        results,
		tolerance:      opts.Tolerance,
		dashboardLimit: opts.DashboardResults,
		logger:         logger.Named("recognition_usecase"),
		now:            time.Now,
	}
}

// ImageInput carries an image either as raw bytes or base64 text.
type ImageInput struct {
	Data    []byte
	Encoded string
}

func (in ImageInput) bytes() ([]byte, error) {
	if len(in.Data) > 0 {
		return in.Data, nil
	}
	if in.Encoded == "" {
		return nil, ErrNoImageProvided
	}
	data, err := imaging.DecodeBase64(in.Encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDecodeFailure, err)
	}
	return data, nil
}

func decodeImage(in ImageInput) (*imaging.Decoded, error) {
	data, err := in.bytes()
	if err != nil {
		return nil, err
	}
	decoded, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImageDecodeFailure, err)
	}
	return decoded, nil
}

// Identify detects the faces in an image, matches each against the known
// faces and records the outcome in the result log.
func (uc *RecognitionUseCase) Identify(ctx context.Context, in ImageInput) (*resultlog.DetectionResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.identify", requestID)

	decoded, err := decodeImage(in)
	if err != nil {
		opLogger.Info("rejected identification request", zap.Error(err))
		return nil, logging.NewOperationError("usecase.identify", requestID, err)
	}

	faces, err := uc.encoder.DetectAndEncode(ctx, decoded.Raw)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.identify", requestID, fmt.Errorf("%w: %w", ErrEncoderFailure, err))
		opLogger.Error("face encoding failed", zap.Error(wrapped))
		return nil, wrapped
	}

	matches := matcher.ClassifyAll(faces, uc.known.LookupAll(), uc.tolerance)
	summary := matcher.Summarize(matches)

	entry := resultlog.DetectionResult{
		ID:         requestID,
		Timestamp:  uc.now().UTC(),
		Result:     summary.Text,
		Confidence: summary.Confidence,
		ImageSize:  decoded.Size(),
		Width:      decoded.Width,
		Height:     decoded.Height,
		FaceCount:  len(faces),
		Faces:      matcher.Names(matches),
		Image:      base64.StdEncoding.EncodeToString(decoded.Raw),
	}
	uc.results.Record(entry)

	opLogger.Info("processed image",
		zap.String("result", summary.Text),
		zap.Float64("confidence", summary.Confidence),
		zap.Int("faces", len(faces)),
		zap.String("image_size", entry.ImageSize),
	)
	return &entry, nil
}

// EnrollResult describes a successful enrollment.
type EnrollResult struct {
	Name       string `json:"name"`
	KnownFaces int    `json:"known_faces"`
}

// Enroll stores a new known face under name and reloads the registry. The
// image must contain exactly one face; otherwise nothing changes.
func (uc *RecognitionUseCase) Enroll(ctx context.Context, name string, in ImageInput) (*EnrollResult, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", requestID)
	fail := func(err error) (*EnrollResult, error) {
		opLogger.Info("rejected enrollment", zap.String("name", name), zap.Error(err))
		return nil, logging.NewOperationError("usecase.enroll", requestID, err)
	}

	name = repository.NormalizeName(name)
	if err := repository.ValidateName(name); err != nil {
		return fail(err)
	}

	decoded, err := decodeImage(in)
	if err != nil {
		return fail(err)
	}

	faces, err := uc.encoder.DetectAndEncode(ctx, decoded.Raw)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.enroll", requestID, fmt.Errorf("%w: %w", ErrEncoderFailure, err))
		opLogger.Error("face encoding failed", zap.Error(wrapped))
		return nil, wrapped
	}
	switch {
	case len(faces) == 0:
		return fail(ErrNoFaceDetected)
	case len(faces) > 1:
		return fail(fmt.Errorf("%w (found %d)", ErrMultipleFacesDetected, len(faces)))
	}

	jpegData := decoded.Raw
	if decoded.Format != "jpeg" {
		if jpegData, err = imaging.EncodeJPEG(decoded.Image); err != nil {
			return nil, logging.NewOperationError("usecase.enroll", requestID, err)
		}
	}

	// Once the image is stored the enrollment runs to completion or is undone,
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	uc.enrollMu.Lock()
	defer uc.enrollMu.Unlock()

	rev, err := uc.store.Save(ctx, name, jpegData)
	if err != nil {
		opLogger.Error("failed to store known face", zap.Error(err))
		return nil, logging.NewOperationError("usecase.enroll", requestID, err)
	}
	if err := uc.known.Reload(ctx, nil); err != nil {
		wrapped := logging.NewOperationError("usecase.enroll", requestID, err)
		opLogger.Error("failed to reload known faces", zap.Error(wrapped))
		if rbErr := rev.Rollback(); rbErr != nil {
			opLogger.Error("failed to roll back known face", zap.String("name", name), zap.Error(rbErr))
		}
		return nil, wrapped
	}
	if err := rev.Commit(); err != nil {
		opLogger.Warn("failed to discard replaced image", zap.String("name", name), zap.Error(err))
	}

	opLogger.Info("added new face", zap.String("name", name), zap.Int("known_faces", uc.known.Len()))
	return &EnrollResult{Name: name, KnownFaces: uc.known.Len()}, nil
}

// ReloadKnownFaces rescans the known-face store.
func (uc *RecognitionUseCase) ReloadKnownFaces(ctx context.Context, progress registry.ProgressFunc) error {
	uc.enrollMu.Lock()
	defer uc.enrollMu.Unlock()
	return uc.known.Reload(ctx, progress)
}
