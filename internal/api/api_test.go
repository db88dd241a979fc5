package api

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// writeArtifacts fits a tiny two-model ensemble on the canonical schema and
// writes it into dir for the store to load.
func writeArtifacts(t *testing.T, dir string) {
	t.Helper()

	schema := feature.CanonicalSchema()
	rng := rand.New(rand.NewSource(21))
	n := 200
	X := make([][]float64, n)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		X[i] = make([]float64, schema.Len())
		for j := range X[i] {
			X[i][j] = rng.Float64()
		}
		if i%5 == 0 {
			X[i][0] += 4 // amount column separates the classes
			y[i] = 1
		}
	}

	fcfg := model.DefaultForestConfig()
	fcfg.NumTrees = 10
	fcfg.MaxDepth = 4
	fcfg.MinSamplesSplit = 4
	fcfg.MinSamplesLeaf = 2
	forest, err := model.FitRandomForest(X, y, fcfg)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	bcfg := model.DefaultBoostConfig()
	bcfg.NumRounds = 10
	bcfg.MaxDepth = 3
	boost, err := model.FitGradientBoost(X, y, bcfg)
	if err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	scaler, err := feature.FitStandardScaler(X)
	if err != nil {
		t.Fatalf("scaler fit failed: %v", err)
	}

	fp := schema.Fingerprint()
	write := func(name string, a any, file string) {
		blob, err := model.Encode(name, fp, a)
		if err != nil {
			t.Fatalf("encode %s failed: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, file), blob, 0o644); err != nil {
			t.Fatalf("write %s failed: %v", file, err)
		}
	}
	write(string(domain.ModelRandomForest), forest, artifact.ModelFile(domain.ModelRandomForest))
	write(string(domain.ModelXGBoost), boost, artifact.ModelFile(domain.ModelXGBoost))
	write(domain.ScalerStandard, scaler, artifact.ScalerFile)

	meta := domain.Metadata{
		FeatureNames:      schema,
		TrainingDate:      "2025-06-01T00:00:00Z",
		ModelVersions:     []string{string(domain.ModelRandomForest), string(domain.ModelXGBoost)},
		SchemaFingerprint: fp,
	}
	mdata, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, artifact.MetadataFile), mdata, 0o644); err != nil {
		t.Fatalf("write metadata failed: %v", err)
	}
}

// createTestServer builds a server over a temp artifact directory. When
// loaded is false the directory stays empty.
func createTestServer(t *testing.T, loaded bool) *Server {
	t.Helper()

	dir := t.TempDir()
	if loaded {
		writeArtifacts(t, dir)
	}

	store := artifact.NewStore(dir)
	if _, err := store.Load(); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	scorer := scoring.NewScorer(store, domain.DefaultThresholds(), nil)
	c := cache.NewLocalCache(100, time.Minute)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, store, scorer, nil, c, nil, "test-v1", time.Minute)
}

func doJSON(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return rec, decoded
}

func TestPredictEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("SuccessfulPrediction", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict",
			`{"amount": 250.0, "hour": 3, "is_night": 1, "user_risk_score": 80}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if resp["success"] != true {
			t.Errorf("expected success=true, got %v", resp["success"])
		}

		pred, ok := resp["prediction"].(map[string]any)
		if !ok {
			t.Fatalf("missing prediction object: %v", resp)
		}
		if _, ok := pred["fraud_score"]; !ok {
			t.Error("prediction missing fraud_score")
		}
		if pred["risk_level"] == "" {
			t.Error("prediction missing risk_level")
		}
		if _, ok := resp["processing_time_ms"]; !ok {
			t.Error("response missing processing_time_ms")
		}
		if _, ok := resp["timestamp"]; !ok {
			t.Error("response missing timestamp")
		}
	})

	t.Run("EmptyObjectUsesDefaults", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict", `{}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for empty object, got %d", rec.Code)
		}
		if resp["success"] != true {
			t.Errorf("empty object must still score via defaults, got %v", resp)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict", `not json at all`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if resp["success"] != false {
			t.Errorf("expected success=false, got %v", resp)
		}
	})

	t.Run("NonObjectBody", func(t *testing.T) {
		rec, _ := doJSON(t, server, http.MethodPost, "/predict", `[1, 2, 3]`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for array body, got %d", rec.Code)
		}
	})

	t.Run("NullBody", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict", `null`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for null body, got %d", rec.Code)
		}
		if resp["success"] != false {
			t.Errorf("expected success=false, got %v", resp)
		}
	})

	t.Run("NonNumericKnownFeature", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict", `{"amount": "lots"}`)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for non-numeric amount, got %d", rec.Code)
		}
		errMsg, _ := resp["error"].(string)
		if !strings.Contains(errMsg, "amount") {
			t.Errorf("error should name the offending feature, got %q", errMsg)
		}
	})

	t.Run("UnknownKeysIgnored", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodPost, "/predict",
			`{"amount": 100, "mystery_field": "text value"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("unknown non-numeric keys must be ignored, got %d", rec.Code)
		}
		if resp["success"] != true {
			t.Errorf("expected success, got %v", resp)
		}
	})
}

func TestPredictNoModels(t *testing.T) {
	server := createTestServer(t, false)

	rec, resp := doJSON(t, server, http.MethodPost, "/predict", `{"amount": 100}`)

	// Still a 200: degraded result, not a failure.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	pred, ok := resp["prediction"].(map[string]any)
	if !ok {
		t.Fatalf("missing prediction object: %v", resp)
	}
	if pred["fraud_score"] != float64(0) {
		t.Errorf("expected fraud_score 0, got %v", pred["fraud_score"])
	}
	errMsg, _ := pred["error"].(string)
	if !strings.Contains(errMsg, "no models") {
		t.Errorf("expected no-models indicator, got %q", errMsg)
	}
}

func TestReloadEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	rec, resp := doJSON(t, server, http.MethodPost, "/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp)
	}
	if resp["models_loaded"] != float64(2) {
		t.Errorf("expected models_loaded=2, got %v", resp["models_loaded"])
	}
}

func TestModelsEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	rec, resp := doJSON(t, server, http.MethodGet, "/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	models, ok := resp["available_models"].([]any)
	if !ok || len(models) != 2 {
		t.Errorf("expected 2 available models, got %v", resp["available_models"])
	}
	if resp["feature_count"] != float64(15) {
		t.Errorf("expected 15 features, got %v", resp["feature_count"])
	}
	if resp["training_date"] != "2025-06-01T00:00:00Z" {
		t.Errorf("unexpected training_date: %v", resp["training_date"])
	}
	if resp["schema_fingerprint"] == "" {
		t.Error("schema fingerprint missing")
	}
}

func TestModelsEndpointEmptyStore(t *testing.T) {
	server := createTestServer(t, false)

	rec, resp := doJSON(t, server, http.MethodGet, "/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty store must still answer 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp)
	}

	models, ok := resp["available_models"].([]any)
	if !ok || len(models) != 0 {
		t.Errorf("expected no available models, got %v", resp["available_models"])
	}
	if resp["feature_count"] != float64(0) {
		t.Errorf("expected feature_count 0, got %v", resp["feature_count"])
	}
	if _, present := resp["training_date"]; present {
		t.Error("training_date must be omitted without metadata")
	}
}

func TestFeatureImportanceEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	t.Run("DefaultModel", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodGet, "/feature-importance", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		ranked, ok := resp["importances"].([]any)
		if !ok || len(ranked) != 15 {
			t.Fatalf("expected 15 ranked importances, got %v", resp["importances"])
		}

		// Descending order.
		prev := 2.0
		for _, entry := range ranked {
			e := entry.(map[string]any)
			imp := e["importance"].(float64)
			if imp > prev {
				t.Fatal("importances must be sorted descending")
			}
			prev = imp
		}
	})

	t.Run("UnloadedModelEmptyRanking", func(t *testing.T) {
		rec, resp := doJSON(t, server, http.MethodGet, "/feature-importance?model=nope", "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for unloaded model, got %d", rec.Code)
		}
		ranked, ok := resp["importances"].([]any)
		if !ok || len(ranked) != 0 {
			t.Errorf("expected empty ranking, got %v", resp["importances"])
		}
	})

	t.Run("AnomalyDetectorEmptyRanking", func(t *testing.T) {
		// The isolation forest carries no native importance measure.
		dir := t.TempDir()
		rng := rand.New(rand.NewSource(33))
		X := make([][]float64, 64)
		for i := range X {
			X[i] = []float64{rng.Float64(), rng.Float64()}
		}
		iso, err := model.FitIsolationForest(X, model.DefaultIsoForestConfig())
		if err != nil {
			t.Fatalf("fit failed: %v", err)
		}
		blob, err := model.Encode(string(domain.ModelIsolationForest), "", iso)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, artifact.ModelFile(domain.ModelIsolationForest)), blob, 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		store := artifact.NewStore(dir)
		if _, err := store.Load(); err != nil {
			t.Fatalf("load failed: %v", err)
		}
		scorer := scoring.NewScorer(store, domain.DefaultThresholds(), nil)
		srv := NewServer(domain.ServerConfig{}, store, scorer, nil,
			cache.NewLocalCache(10, time.Minute), nil, "test-v1", time.Minute)

		rec, resp := doJSON(t, srv, http.MethodGet, "/feature-importance?model=isolation_forest", "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200 for anomaly detector, got %d", rec.Code)
		}
		ranked, ok := resp["importances"].([]any)
		if !ok || len(ranked) != 0 {
			t.Errorf("expected empty ranking, got %v", resp["importances"])
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, true)

	rec, resp := doJSON(t, server, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", resp["status"])
	}
	if resp["models_loaded"] != float64(2) {
		t.Errorf("expected models_loaded=2, got %v", resp["models_loaded"])
	}
}

func TestListPredictionsBadLimit(t *testing.T) {
	server := createTestServer(t, true)

	rec, resp := doJSON(t, server, http.MethodGet, "/predictions?limit=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer limit, got %d", rec.Code)
	}
	errMsg, _ := resp["error"].(string)
	if !strings.Contains(errMsg, "limit") {
		t.Errorf("error should name the limit param, got %q", errMsg)
	}
}

func TestPredictCacheHit(t *testing.T) {
	server := createTestServer(t, true)
	body := `{"amount": 321.0, "hour": 10}`

	rec1, resp1 := doJSON(t, server, http.MethodPost, "/predict", body)
	rec2, resp2 := doJSON(t, server, http.MethodPost, "/predict", body)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", rec1.Code, rec2.Code)
	}

	p1 := resp1["prediction"].(map[string]any)
	p2 := resp2["prediction"].(map[string]any)
	if p1["fraud_score"] != p2["fraud_score"] {
		t.Errorf("cached result must match: %v vs %v", p1["fraud_score"], p2["fraud_score"])
	}
}
