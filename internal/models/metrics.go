package models

import "time"

// MetricPoint is one row of a metrics file: a set of named values sharing
// a timestamp and step.
type MetricPoint struct {
	Timestamp *time.Time         `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Step      *int64             `json:"step,omitempty" yaml:"step,omitempty"`
	Values    map[string]float64 `json:"values" yaml:"values"`
}

type MetricsFile struct {
	Metrics []MetricPoint `json:"metrics" yaml:"metrics"`
}

type Metric struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Step      int64     `json:"step"`
}

type TimeConfig struct {
	Resolution string // 1m, 5m, 1h
	Alignment  string // floor, ceil, round
	StepMode   string // auto, timestamp, sequence
}
