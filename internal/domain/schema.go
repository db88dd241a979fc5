// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FeatureSchema is the ordered list of feature names defining the vector
// layout shared between trainer and server. Order is significant: every model
// and scaler fit against a schema expects vectors in exactly this order.
type FeatureSchema []string

// Len returns the number of feature slots.
func (s FeatureSchema) Len() int { return len(s) }

// Fingerprint returns a stable hash of the ordered feature names.
// Embedded in artifact envelopes and metadata so a reordered or foreign
// schema is rejected at load time instead of silently corrupting scores.
func (s FeatureSchema) Fingerprint() string {
	if len(s) == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(s, ",")))
	return hex.EncodeToString(sum[:])
}

// Metadata describes a training run. Written once by the trainer, read-only
// by the serving side.
type Metadata struct {
	FeatureNames      FeatureSchema      `json:"feature_names"`
	TrainingDate      string             `json:"training_date"` // ISO-8601
	ModelVersions     []string           `json:"model_versions"`
	SchemaFingerprint string             `json:"schema_fingerprint,omitempty"`
	OptimalThresholds map[string]float64 `json:"optimal_thresholds,omitempty"`
}
