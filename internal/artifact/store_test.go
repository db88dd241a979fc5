package artifact

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
)

// writeTestArtifacts fits a tiny forest on random data and writes it, a
// scaler, and metadata into dir.
func writeTestArtifacts(t *testing.T, dir string, schema domain.FeatureSchema) {
	t.Helper()

	rng := rand.New(rand.NewSource(11))
	n := 120
	X := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		X[i] = make([]float64, schema.Len())
		for j := range X[i] {
			X[i][j] = rng.Float64()
		}
		if i%4 == 0 {
			X[i][0] += 3
			y[i] = 1
		}
	}

	cfg := model.DefaultForestConfig()
	cfg.NumTrees = 5
	cfg.MaxDepth = 3
	cfg.MinSamplesSplit = 4
	cfg.MinSamplesLeaf = 2

	forest, err := model.FitRandomForest(X, y, cfg)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	scaler, err := feature.FitStandardScaler(X)
	if err != nil {
		t.Fatalf("scaler fit failed: %v", err)
	}

	fp := schema.Fingerprint()

	blob, err := model.Encode(string(domain.ModelRandomForest), fp, forest)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ModelFile(domain.ModelRandomForest)), blob, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	sblob, err := model.Encode(domain.ScalerStandard, fp, scaler)
	if err != nil {
		t.Fatalf("scaler encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ScalerFile), sblob, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	meta := domain.Metadata{
		FeatureNames:      schema,
		TrainingDate:      "2025-06-01T00:00:00Z",
		ModelVersions:     []string{string(domain.ModelRandomForest)},
		SchemaFingerprint: fp,
	}
	mdata, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, MetadataFile), mdata, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestLoadSingleModel(t *testing.T) {
	dir := t.TempDir()
	schema := domain.FeatureSchema{"a", "b", "c"}
	writeTestArtifacts(t, dir, schema)

	store := NewStore(dir)
	count, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 model loaded, got %d", count)
	}

	snap := store.Snapshot()
	if snap.Schema.Len() != 3 {
		t.Errorf("expected schema of 3 features, got %d", snap.Schema.Len())
	}
	if snap.Scaler == nil {
		t.Error("scaler should be loaded")
	}
	if _, ok := snap.Models[domain.ModelRandomForest]; !ok {
		t.Error("random forest should be loaded")
	}
	names := snap.ModelNames()
	if len(names) != 1 || names[0] != domain.ModelRandomForest {
		t.Errorf("unexpected model names: %v", names)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "does-not-exist"))

	count, err := store.Load()
	if err != nil {
		t.Fatalf("missing directory must not be fatal: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 models, got %d", count)
	}

	snap := store.Snapshot()
	if snap == nil {
		t.Fatal("snapshot must never be nil")
	}
	if len(snap.Models) != 0 {
		t.Errorf("expected empty model set, got %v", snap.ModelNames())
	}
}

func TestLoadSkipsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	schema := domain.FeatureSchema{"a", "b", "c"}
	writeTestArtifacts(t, dir, schema)

	// Corrupt the xgboost slot; the forest must still load.
	corrupt := filepath.Join(dir, ModelFile(domain.ModelXGBoost))
	if err := os.WriteFile(corrupt, []byte("not a gob blob"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store := NewStore(dir)
	count, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 model (corrupt blob skipped), got %d", count)
	}
	if _, ok := store.Snapshot().Models[domain.ModelXGBoost]; ok {
		t.Error("corrupt blob must not be loaded")
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	dir := t.TempDir()
	schema := domain.FeatureSchema{"a", "b", "c"}
	writeTestArtifacts(t, dir, schema)

	store := NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	first := store.Snapshot()

	// Remove the model file; reload must publish the smaller set.
	if err := os.Remove(filepath.Join(dir, ModelFile(domain.ModelRandomForest))); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	count, err := store.Reload()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 models after removal, got %d", count)
	}

	// The earlier snapshot is untouched.
	if len(first.Models) != 1 {
		t.Error("pre-reload snapshot must remain intact")
	}
	if first.Signature() == store.Snapshot().Signature() {
		t.Error("reload must change the snapshot signature")
	}
}

func TestConcurrentSnapshotDuringReload(t *testing.T) {
	dir := t.TempDir()
	schema := domain.FeatureSchema{"a", "b", "c"}
	writeTestArtifacts(t, dir, schema)

	store := NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap := store.Snapshot()
				// A snapshot is all-or-nothing: if the model is present
				// the schema that shipped with it must be too.
				if len(snap.Models) == 1 && snap.Schema.Len() != 3 {
					t.Error("observed torn snapshot")
					return
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, err := store.Reload(); err != nil {
					t.Errorf("reload failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}
