package models

// ParametersFile values are kept untyped so numbers and booleans survive
// JSON decoding; they are stringified when logged.
type ParametersFile struct {
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}
