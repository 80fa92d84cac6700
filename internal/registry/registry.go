// Package registry holds the in-memory set of known faces, rebuilt from the
// known-face repository on startup and after every enrollment.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/imaging"
	"github.com/example/facewatch/internal/logging"
	"github.com/example/facewatch/internal/repository"
)

// KnownFace is one enrolled identity.
type KnownFace struct {
	Name      string
	Encoding  faceencoder.Encoding
	Source    string
	Thumbnail []byte
}

// Source is the storage the registry loads from.
type Source interface {
	List(ctx context.Context) ([]repository.Sample, error)
	Read(ctx context.Context, s repository.Sample) ([]byte, error)
}

// ProgressFunc is told how many samples have been processed out of total.
type ProgressFunc func(done, total int)

// Registry maps names to a single reference encoding each. Reads take
// snapshots; Reload swaps in a completely new set.
type Registry struct {
	source  Source
	encoder faceencoder.Encoder
	logger  *zap.Logger

	mu       sync.RWMutex
	faces    []KnownFace
	loadedAt time.Time
}

// New creates an empty registry. Call Reload to populate it.
func New(source Source, encoder faceencoder.Encoder, logger *zap.Logger) *Registry {
	return &Registry{source: source, encoder: encoder, logger: logger.Named("registry")}
}

// Reload rescans the source and replaces the registry contents. A sample whose
// image holds no face is skipped silently; an unreadable or undecodable one is
// skipped with a warning. An encoder failure aborts the reload and keeps the
// previous contents. When a name occurs twice the first sample wins.
func (r *Registry) Reload(ctx context.Context, progress ProgressFunc) error {
	opLogger := logging.WithOperation(r.logger, "registry.reload", "")

	samples, err := r.source.List(ctx)
	if err != nil {
		return err
	}

	faces := make([]KnownFace, 0, len(samples))
	seen := make(map[string]struct{}, len(samples))
	for i, sample := range samples {
		if progress != nil {
			progress(i, len(samples))
		}
		if _, dup := seen[sample.Name]; dup {
			opLogger.Warn("duplicate known face name, keeping first", zap.String("name", sample.Name), zap.String("path", sample.Path))
			continue
		}

		face, ok, err := r.load(ctx, sample, opLogger)
		if err != nil {
			return logging.NewOperationError("registry.reload", sample.Name, err)
		}
		if !ok {
			continue
		}
		seen[sample.Name] = struct{}{}
		faces = append(faces, face)
		opLogger.Debug("loaded known face", zap.String("name", face.Name))
	}
	if progress != nil {
		progress(len(samples), len(samples))
	}

	r.mu.Lock()
	r.faces = faces
	r.loadedAt = time.Now().UTC()
	r.mu.Unlock()

	opLogger.Info("known faces loaded", zap.Int("count", len(faces)), zap.Int("files", len(samples)))
	return nil
}

func (r *Registry) load(ctx context.Context, sample repository.Sample, opLogger *zap.Logger) (KnownFace, bool, error) {
	data, err := r.source.Read(ctx, sample)
	if err != nil {
		opLogger.Warn("skipping unreadable known face", zap.String("path", sample.Path), zap.Error(err))
		return KnownFace{}, false, nil
	}
	decoded, err := imaging.Decode(data)
	if err != nil {
		opLogger.Warn("skipping undecodable known face", zap.String("path", sample.Path), zap.Error(err))
		return KnownFace{}, false, nil
	}

	found, err := r.encoder.DetectAndEncode(ctx, decoded.Raw)
	if err != nil {
		return KnownFace{}, false, err
	}
	if len(found) == 0 {
		return KnownFace{}, false, nil
	}

	thumb, err := imaging.Thumbnail(decoded.Image, imaging.ThumbnailSize)
	if err != nil {
		opLogger.Warn("failed to render thumbnail", zap.String("path", sample.Path), zap.Error(err))
	}
	return KnownFace{
		Name:      sample.Name,
		Encoding:  found[0].Encoding,
		Source:    sample.Path,
		Thumbnail: thumb,
	}, true, nil
}

// LookupAll returns the current known faces in load order. The slice is a
// snapshot owned by the caller; later reloads do not affect it.
func (r *Registry) LookupAll() []KnownFace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]KnownFace, len(r.faces))
	copy(out, r.faces)
	return out
}

// Names returns the known names in load order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.faces))
	for i, f := range r.faces {
		names[i] = f.Name
	}
	return names
}

// Len returns the number of known faces.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.faces)
}

// LoadedAt returns when the last successful reload finished.
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}
