// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker scores transactions asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	scorer *scoring.Scorer

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async scoring worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, scorer *scoring.Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the transaction topic and begins processing.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("scoring worker started",
		"topic", domain.TopicTransactionReceived,
	)
	return nil
}

// TransactionMessage is the message payload for async scoring.
type TransactionMessage struct {
	ID       string             `json:"id,omitempty"`
	TraceID  string             `json:"trace_id,omitempty"`
	Features map[string]float64 `json:"features"`
}

// ScoredMessage is published after a transaction has been scored.
type ScoredMessage struct {
	ID      string                   `json:"id"`
	TraceID string                   `json:"trace_id,omitempty"`
	Result  *domain.PredictionResult `json:"result"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg)
}

// processTransaction scores a transaction and persists the outcome.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	id := txMsg.ID
	if id == "" {
		id = uuid.New().String()
	}
	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	record := domain.TransactionRecord(txMsg.Features)
	result, err := w.scorer.Score(ctx, record)
	if err != nil {
		slog.Error("async scoring failed",
			"prediction_id", id,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		rec := &domain.PredictionRecord{
			ID:        id,
			TraceID:   traceID,
			Features:  record,
			Result:    *result,
			CreatedAt: time.Now().UTC(),
		}
		if err := w.repo.SavePrediction(ctx, rec); err != nil {
			slog.Error("failed to save prediction",
				"prediction_id", id,
				"error", err,
			)
		}
	}

	scored := ScoredMessage{ID: id, TraceID: traceID, Result: result}
	resultPayload, _ := json.Marshal(scored)
	if err := w.bus.Publish(ctx, domain.TopicPredictionScored, resultPayload); err != nil {
		slog.Error("failed to publish scored prediction",
			"prediction_id", id,
			"error", err,
		)
	}

	if result.Action == domain.ActionBlock {
		if err := w.bus.Publish(ctx, domain.TopicPredictionAlert, resultPayload); err != nil {
			slog.Error("failed to publish alert",
				"prediction_id", id,
				"error", err,
			)
		}
	}

	slog.Info("transaction scored",
		"prediction_id", id,
		"risk_level", result.RiskLevel,
		"action", result.Action,
		"fraud_score", result.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("scoring worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
