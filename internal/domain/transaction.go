package domain

// TransactionRecord is a sparse mapping from feature name to numeric value.
// Missing keys are permitted; the feature extractor substitutes documented
// defaults for every recognized name that is absent.
type TransactionRecord map[string]float64

// Get returns the value for a feature name, or the provided default when the
// name is absent from the record.
func (r TransactionRecord) Get(name string, def float64) float64 {
	if v, ok := r[name]; ok {
		return v
	}
	return def
}

// Clone returns a copy of the record.
func (r TransactionRecord) Clone() TransactionRecord {
	out := make(TransactionRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
