// Package feature maps sparse transaction records onto the fixed-order
// numeric vectors the models were fit against.
package feature

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Defaults is the total default table: every recognized feature name has
// exactly one substitute value used when the name is absent from a record.
// These values are part of the trained-model contract; changing one changes
// prediction semantics for sparse inputs.
var Defaults = map[string]float64{
	"amount":                    0,
	"hour":                      12,
	"day_of_week":               0,
	"is_weekend":                0,
	"is_night":                  0,
	"amount_z_score":            0,
	"time_diff_minutes":         60,
	"has_location":              1,
	"user_risk_score":           20,
	"user_avg_amount":           100,
	"user_amount_std":           50,
	"user_txn_count":            10,
	"merchant_fraud_rate":       0.02,
	"merchant_category_encoded": 0,
	"merchant_risk_encoded":     0,
}

// CanonicalSchema returns the feature order used by the trainer. The serving
// side never assumes this order; it always follows the loaded metadata.
func CanonicalSchema() domain.FeatureSchema {
	return domain.FeatureSchema{
		"amount", "hour", "day_of_week", "is_weekend", "is_night",
		"amount_z_score", "time_diff_minutes", "has_location",
		"user_risk_score", "user_avg_amount", "user_amount_std", "user_txn_count",
		"merchant_fraud_rate", "merchant_category_encoded", "merchant_risk_encoded",
	}
}

// Extract produces a feature vector of length schema.Len() in schema order.
// For every slot the record's value is used if present, else the documented
// default, else 0 for names outside the recognized set. Returns
// ErrSchemaMismatch when no schema is loaded.
func Extract(record domain.TransactionRecord, schema domain.FeatureSchema) ([]float64, error) {
	if schema.Len() == 0 {
		return nil, domain.ErrSchemaMismatch
	}

	vec := make([]float64, schema.Len())
	for i, name := range schema {
		if v, ok := record[name]; ok {
			vec[i] = v
			continue
		}
		vec[i] = Defaults[name]
	}
	return vec, nil
}
