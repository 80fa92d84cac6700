package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/example/facewatch/internal/logging"
)

// SupportedExtensions lists the file extensions treated as known-face images.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png"}

// Sample is one labelled image in the known-faces store.
type Sample struct {
	Name string
	Path string
}

// KnownFaceRepository provides flat-file persistence for labelled face images.
// The filename stem is the person's name.
type KnownFaceRepository struct {
	dir    string
	logger *zap.Logger
}

// NewKnownFaceRepository creates a repository rooted at dir.
func NewKnownFaceRepository(dir string, logger *zap.Logger) *KnownFaceRepository {
	return &KnownFaceRepository{dir: dir, logger: logger.Named("known_face_repository")}
}

// Dir returns the backing directory.
func (r *KnownFaceRepository) Dir() string {
	return r.dir
}

// EnsureDir creates the backing directory if it is missing.
func (r *KnownFaceRepository) EnsureDir() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return logging.NewOperationError("repository.ensure_dir", "", err)
	}
	return nil
}

// List returns every supported image in filename order.
func (r *KnownFaceRepository) List(ctx context.Context) ([]Sample, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, logging.NewOperationError("repository.list", "", err)
	}

	samples := make([]Sample, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, logging.NewOperationError("repository.list", "", err)
		}
		if entry.IsDir() {
			continue
		}
		name, ok := stem(entry.Name())
		if !ok {
			continue
		}
		samples = append(samples, Sample{Name: name, Path: filepath.Join(r.dir, entry.Name())})
	}
	sort.SliceStable(samples, func(i, j int) bool {
		return filepath.Base(samples[i].Path) < filepath.Base(samples[j].Path)
	})
	return samples, nil
}

// Read returns the bytes of a sample.
func (r *KnownFaceRepository) Read(ctx context.Context, s Sample) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, logging.NewOperationError("repository.read", s.Name, err)
	}
	return data, nil
}

// Revision is a saved known face that can still be undone. Exactly one of
// Commit or Rollback should be called.
type Revision interface {
	Commit() error
	Rollback() error
}

// Save stores jpegData as <name>.jpg and sets aside other files with the same
// stem, so a name always maps to a single image. The previous files are kept
// until the returned revision is committed.
func (r *KnownFaceRepository) Save(ctx context.Context, name string, jpegData []byte) (Revision, error) {
	if err := ValidateName(name); err != nil {
		return nil, logging.NewOperationError("repository.save", name, err)
	}
	if err := r.EnsureDir(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, logging.NewOperationError("repository.save", name, err)
	}

	target := filepath.Join(r.dir, name+".jpg")
	tmp, err := os.CreateTemp(r.dir, ".enroll-*")
	if err != nil {
		return nil, logging.NewOperationError("repository.save", name, err)
	}
	if _, err := tmp.Write(jpegData); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, logging.NewOperationError("repository.save", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, logging.NewOperationError("repository.save", name, err)
	}

	rev := &fileRevision{repo: r, name: name, target: target}
	if err := rev.setAside(); err != nil {
		os.Remove(tmp.Name())
		return nil, logging.NewOperationError("repository.save", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		if rbErr := rev.restore(); rbErr != nil {
			r.logger.Error("failed to restore previous image", zap.String("name", name), zap.Error(rbErr))
		}
		return nil, logging.NewOperationError("repository.save", name, err)
	}

	r.logger.Info("saved known face", zap.String("name", name), zap.String("path", target))
	return rev, nil
}

// fileRevision remembers the files a save replaced. They sit in a hidden
// backup directory, which List never descends into.
type fileRevision struct {
	repo      *KnownFaceRepository
	name      string
	target    string
	backupDir string
	moved     []string
}

func (v *fileRevision) setAside() error {
	for _, ext := range SupportedExtensions {
		path := filepath.Join(v.repo.dir, v.name+ext)
		if _, err := os.Lstat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if v.backupDir == "" {
			dir, err := os.MkdirTemp(v.repo.dir, ".backup-*")
			if err != nil {
				return err
			}
			v.backupDir = dir
		}
		if err := os.Rename(path, filepath.Join(v.backupDir, v.name+ext)); err != nil {
			if rbErr := v.restore(); rbErr != nil {
				v.repo.logger.Error("failed to restore previous image", zap.String("name", v.name), zap.Error(rbErr))
			}
			return err
		}
		v.moved = append(v.moved, v.name+ext)
	}
	return nil
}

// restore moves the set-aside files back into place.
func (v *fileRevision) restore() error {
	var errs []error
	for _, file := range v.moved {
		if err := os.Rename(filepath.Join(v.backupDir, file), filepath.Join(v.repo.dir, file)); err != nil {
			errs = append(errs, err)
		}
	}
	v.moved = nil
	if v.backupDir != "" && len(errs) == 0 {
		errs = append(errs, os.RemoveAll(v.backupDir))
		v.backupDir = ""
	}
	return errors.Join(errs...)
}

// Commit discards the replaced files.
func (v *fileRevision) Commit() error {
	v.moved = nil
	if v.backupDir == "" {
		return nil
	}
	err := os.RemoveAll(v.backupDir)
	v.backupDir = ""
	if err != nil {
		return logging.NewOperationError("repository.commit", v.name, err)
	}
	return nil
}

// Rollback removes the new image and puts the replaced files back.
func (v *fileRevision) Rollback() error {
	var errs []error
	if err := os.Remove(v.target); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	errs = append(errs, v.restore())
	if err := errors.Join(errs...); err != nil {
		return logging.NewOperationError("repository.rollback", v.name, err)
	}
	v.repo.logger.Info("rolled back known face", zap.String("name", v.name))
	return nil
}

// stem returns the person name for filename, and false when the extension is
// not supported.
func stem(filename string) (string, bool) {
	if strings.HasPrefix(filename, ".") {
		return "", false
	}
	ext := filepath.Ext(filename)
	for _, supported := range SupportedExtensions {
		if ext == supported {
			name := strings.TrimSuffix(filename, ext)
			return name, name != ""
		}
	}
	return "", false
}
