package model

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
)

// Envelope wraps a serialized artifact with its name and the fingerprint of
// the schema it was fit against. The fingerprint lets the loader reject a
// blob trained on a different feature order instead of serving silently-wrong
// scores.
type Envelope struct {
	Name              string
	SchemaFingerprint string
	Payload           []byte
}

// Encode serializes an artifact (model or scaler) into an envelope blob.
func Encode(name string, fingerprint string, artifact any) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(artifact); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", name, err)
	}

	env := Envelope{
		Name:              name,
		SchemaFingerprint: fingerprint,
		Payload:           payload.Bytes(),
	}

	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(&env); err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", name, err)
	}
	return out.Bytes(), nil
}

// DecodeModel deserializes a model blob and verifies its schema fingerprint
// against the loaded metadata. An empty fingerprint on either side skips the
// check, so pre-fingerprint artifacts keep loading.
func DecodeModel(data []byte, wantFingerprint string) (domain.Model, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if err := checkFingerprint(env, wantFingerprint); err != nil {
		return nil, err
	}

	var m domain.Model
	switch domain.ModelName(env.Name) {
	case domain.ModelRandomForest:
		m = &RandomForest{}
	case domain.ModelXGBoost:
		m = &GradientBoost{}
	case domain.ModelIsolationForest:
		m = &IsolationForest{}
	default:
		return nil, fmt.Errorf("unknown model name %q", env.Name)
	}

	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(m); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Name, err)
	}
	return m, nil
}

// DecodeScaler deserializes a scaler blob with the same fingerprint policy.
func DecodeScaler(data []byte, wantFingerprint string) (*feature.StandardScaler, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Name != domain.ScalerStandard {
		return nil, fmt.Errorf("unexpected scaler name %q", env.Name)
	}
	if err := checkFingerprint(env, wantFingerprint); err != nil {
		return nil, err
	}

	s := &feature.StandardScaler{}
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(s); err != nil {
		return nil, fmt.Errorf("decode scaler payload: %w", err)
	}
	return s, nil
}

func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

func checkFingerprint(env *Envelope, want string) error {
	if want == "" || env.SchemaFingerprint == "" {
		return nil
	}
	if env.SchemaFingerprint != want {
		return fmt.Errorf("schema fingerprint mismatch for %s: artifact %.12s, metadata %.12s",
			env.Name, env.SchemaFingerprint, want)
	}
	return nil
}
