package worker

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// memRepo is an in-memory repository for worker tests.
type memRepo struct {
	mu      sync.Mutex
	records map[string]*domain.PredictionRecord
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]*domain.PredictionRecord)}
}

func (r *memRepo) SavePrediction(_ context.Context, rec *domain.PredictionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	return nil
}

func (r *memRepo) GetPrediction(_ context.Context, id string) (*domain.PredictionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id], nil
}

func (r *memRepo) ListPredictions(_ context.Context, _ int) ([]*domain.PredictionRecord, error) {
	return nil, nil
}

func (r *memRepo) Ping(_ context.Context) error { return nil }
func (r *memRepo) Close() error                 { return nil }

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// trainedStore writes a small forest over a three-feature schema into a temp
// dir and loads it. Feature "a" cleanly separates the classes.
func trainedStore(t *testing.T) *artifact.Store {
	t.Helper()

	dir := t.TempDir()
	schema := domain.FeatureSchema{"a", "b", "c"}

	rng := rand.New(rand.NewSource(31))
	n := 200
	X := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		if i%4 == 0 {
			X[i][0] += 4
			y[i] = 1
		}
	}

	cfg := model.DefaultForestConfig()
	cfg.NumTrees = 10
	cfg.MaxDepth = 4
	cfg.MinSamplesSplit = 4
	cfg.MinSamplesLeaf = 2
	forest, err := model.FitRandomForest(X, y, cfg)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	fp := schema.Fingerprint()
	blob, err := model.Encode(string(domain.ModelRandomForest), fp, forest)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, artifact.ModelFile(domain.ModelRandomForest)), blob, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	meta := domain.Metadata{
		FeatureNames:      schema,
		TrainingDate:      "2025-06-01T00:00:00Z",
		ModelVersions:     []string{string(domain.ModelRandomForest)},
		SchemaFingerprint: fp,
	}
	mdata, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, artifact.MetadataFile), mdata, 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store := artifact.NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorkerScoresAndPersists(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	repo := newMemRepo()
	store := trainedStore(t)
	scorer := scoring.NewScorer(store, domain.DefaultThresholds(), nil)

	w := NewWorker(b, repo, scorer)
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()

	var scoredCount, alertCount int
	var mu sync.Mutex
	b.Subscribe(ctx, domain.TopicPredictionScored, func(_ context.Context, _ *domain.Message) error {
		mu.Lock()
		scoredCount++
		mu.Unlock()
		return nil
	})
	b.Subscribe(ctx, domain.TopicPredictionAlert, func(_ context.Context, _ *domain.Message) error {
		mu.Lock()
		alertCount++
		mu.Unlock()
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	// Deep inside the fraud cluster: should score high enough to block.
	fraudMsg, _ := json.Marshal(TransactionMessage{
		ID:       "tx-fraud",
		Features: map[string]float64{"a": 4.5, "b": 0.5, "c": 0.5},
	})
	if err := b.Publish(ctx, domain.TopicTransactionReceived, fraudMsg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Deep inside the legit cluster.
	legitMsg, _ := json.Marshal(TransactionMessage{
		ID:       "tx-legit",
		Features: map[string]float64{"a": 0.2, "b": 0.5, "c": 0.5},
	})
	if err := b.Publish(ctx, domain.TopicTransactionReceived, legitMsg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return repo.count() == 2 })

	fraudRec, _ := repo.GetPrediction(ctx, "tx-fraud")
	if fraudRec == nil {
		t.Fatal("fraud prediction not persisted")
	}
	if fraudRec.Result.Action != domain.ActionBlock {
		t.Errorf("separable fraud input should BLOCK, got %s", fraudRec.Result.Action)
	}

	legitRec, _ := repo.GetPrediction(ctx, "tx-legit")
	if legitRec == nil {
		t.Fatal("legit prediction not persisted")
	}
	if legitRec.Result.Action != domain.ActionAllow {
		t.Errorf("separable legit input should ALLOW, got %s", legitRec.Result.Action)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return scoredCount == 2 && alertCount == 1
	})
}

func TestWorkerAssignsIDWhenMissing(t *testing.T) {
	b := bus.NewChannelBus(100)
	defer b.Close()

	repo := newMemRepo()
	store := trainedStore(t)
	scorer := scoring.NewScorer(store, domain.DefaultThresholds(), nil)

	w := NewWorker(b, repo, scorer)
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}
	defer w.Stop()

	msg, _ := json.Marshal(TransactionMessage{
		Features: map[string]float64{"a": 0.1},
	})
	if err := b.Publish(context.Background(), domain.TopicTransactionReceived, msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return repo.count() == 1 })
}

func TestWorkerStats(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	w := NewWorker(b, nil, scoring.NewScorer(trainedStore(t), domain.DefaultThresholds(), nil))
	if err := w.Start(); err != nil {
		t.Fatalf("worker start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicTransactionReceived {
		t.Errorf("unexpected topics: %v", stats.Topics)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Error("stop must clear subscriptions")
	}
}
