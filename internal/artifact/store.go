// Package artifact owns the lifecycle of trained model and scaler blobs:
// loading them from a directory into an immutable snapshot and swapping that
// snapshot atomically on reload so in-flight scoring never observes a mix of
// old and new artifacts.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
)

// Artifact directory layout. The set of expected filenames is closed: any
// file present and well-formed is loaded, any file absent is silently skipped.
const (
	MetadataFile = "metadata.json"
	ScalerFile   = "standard_scaler.gob"
)

// ModelFile returns the blob filename for a model name.
func ModelFile(name domain.ModelName) string {
	return string(name) + ".gob"
}

// Snapshot is one consistent, immutable view of the loaded artifact set.
// Request handlers capture a snapshot at the start of their work and use it
// exclusively; a reload swaps the store's pointer but never mutates a
// snapshot in place.
type Snapshot struct {
	Schema   domain.FeatureSchema
	Meta     *domain.Metadata
	Scaler   *feature.StandardScaler
	Models   map[domain.ModelName]domain.Model
	LoadedAt time.Time
}

// emptySnapshot is the state before any successful load: no schema, no models.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Models:   map[domain.ModelName]domain.Model{},
		LoadedAt: time.Now().UTC(),
	}
}

// ModelNames returns loaded model names in canonical ensemble order.
func (s *Snapshot) ModelNames() []domain.ModelName {
	out := make([]domain.ModelName, 0, len(s.Models))
	for _, name := range domain.EnsembleOrder {
		if _, ok := s.Models[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// OrderedModels returns loaded models in canonical ensemble order.
func (s *Snapshot) OrderedModels() []domain.Model {
	out := make([]domain.Model, 0, len(s.Models))
	for _, name := range domain.EnsembleOrder {
		if m, ok := s.Models[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Signature identifies this snapshot's artifact set for cache keying.
func (s *Snapshot) Signature() string {
	sig := s.Schema.Fingerprint()
	for _, name := range s.ModelNames() {
		sig += ":" + string(name)
	}
	return fmt.Sprintf("%s@%d", sig, s.LoadedAt.UnixNano())
}

// Store loads artifacts from a directory and publishes them as snapshots.
type Store struct {
	dir string

	// reloadMu serializes Load calls; readers never take it.
	reloadMu sync.Mutex
	snap     atomic.Pointer[Snapshot]
}

// NewStore creates a store over the given artifact directory. The store
// starts empty; call Load to read the directory.
func NewStore(dir string) *Store {
	s := &Store{dir: dir}
	s.snap.Store(emptySnapshot())
	return s
}

// Dir returns the configured artifact directory.
func (s *Store) Dir() string { return s.dir }

// Snapshot returns the current consistent artifact set. Never nil.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Load scans the directory and atomically replaces the published snapshot.
// Per-artifact failures are logged and skipped; a missing directory yields an
// empty snapshot. Returns the number of models loaded.
func (s *Store) Load() (int, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next := s.read()
	s.snap.Store(next)

	slog.Info("artifacts loaded",
		"dir", s.dir,
		"models", next.ModelNames(),
		"scaler", next.Scaler != nil,
		"features", next.Schema.Len(),
	)
	return len(next.Models), nil
}

// Reload re-executes Load against current directory contents. Existing
// artifacts are entirely replaced; there is no partial merge.
func (s *Store) Reload() (int, error) {
	return s.Load()
}

// read builds a fresh snapshot from the directory without touching the
// published one.
func (s *Store) read() *Snapshot {
	next := emptySnapshot()

	if _, err := os.Stat(s.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Warn("artifact directory not found, starting empty", "dir", s.dir)
		} else {
			slog.Error("artifact directory unreadable", "dir", s.dir, "error", err)
		}
		return next
	}

	if meta, err := s.readMetadata(); err != nil {
		slog.Error("metadata load failed", "error", err)
	} else if meta != nil {
		next.Meta = meta
		next.Schema = meta.FeatureNames
	}

	fingerprint := ""
	if next.Meta != nil {
		fingerprint = next.Meta.SchemaFingerprint
	}

	for _, name := range domain.EnsembleOrder {
		path := filepath.Join(s.dir, ModelFile(name))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			logLoadError(&domain.ArtifactLoadError{Path: path, Name: string(name), Err: err})
			continue
		}

		m, err := model.DecodeModel(data, fingerprint)
		if err != nil {
			logLoadError(&domain.ArtifactLoadError{Path: path, Name: string(name), Err: err})
			continue
		}
		if m.Name() != name {
			logLoadError(&domain.ArtifactLoadError{Path: path, Name: string(name),
				Err: fmt.Errorf("blob holds model %q", m.Name())})
			continue
		}
		next.Models[name] = m
		slog.Info("model loaded", "model", name)
	}

	scalerPath := filepath.Join(s.dir, ScalerFile)
	if data, err := os.ReadFile(scalerPath); err == nil {
		scaler, err := model.DecodeScaler(data, fingerprint)
		if err != nil {
			logLoadError(&domain.ArtifactLoadError{Path: scalerPath, Name: domain.ScalerStandard, Err: err})
		} else {
			next.Scaler = scaler
			slog.Info("scaler loaded", "scaler", domain.ScalerStandard)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logLoadError(&domain.ArtifactLoadError{Path: scalerPath, Name: domain.ScalerStandard, Err: err})
	}

	return next
}

func (s *Store) readMetadata() (*domain.Metadata, error) {
	path := filepath.Join(s.dir, MetadataFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var meta domain.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &meta, nil
}

func logLoadError(err *domain.ArtifactLoadError) {
	slog.Error("artifact load failed, skipping",
		"artifact", err.Name,
		"path", err.Path,
		"error", err.Err,
	)
}
