package timeutils

import (
	"fmt"
	"sort"
	"time"

	"github.com/imishinist/mlflow-recorder/internal/models"
)

// AlignTimestamp aligns timestamp to the specified resolution and alignment
func AlignTimestamp(t time.Time, resolution string, alignment string) (time.Time, error) {
	var duration time.Duration

	switch resolution {
	case "1m":
		duration = time.Minute
	case "5m":
		duration = 5 * time.Minute
	case "1h":
		duration = time.Hour
	default:
		return t, fmt.Errorf("unsupported resolution: %s", resolution)
	}

	aligned := t.Truncate(duration)

	switch alignment {
	case "floor":
		return aligned, nil
	case "ceil":
		if t.After(aligned) {
			return aligned.Add(duration), nil
		}
		return aligned, nil
	case "round":
		if t.Sub(aligned) >= duration/2 {
			return aligned.Add(duration), nil
		}
		return aligned, nil
	default:
		return t, fmt.Errorf("unsupported alignment: %s", alignment)
	}
}

// ProcessMetrics flattens metric points into individual metrics, aligning
// timestamps and deriving steps according to config. Keys within a point are
// emitted in sorted order. now is used for points without a timestamp.
func ProcessMetrics(points []models.MetricPoint, config models.TimeConfig, baseTime *time.Time, now func() time.Time) ([]models.Metric, error) {
	if now == nil {
		now = time.Now
	}

	var base time.Time
	if baseTime != nil {
		base = *baseTime
	} else if len(points) > 0 && points[0].Timestamp != nil {
		base = *points[0].Timestamp
	} else {
		base = now()
	}

	var result []models.Metric
	for i, point := range points {
		timestamp := now()
		if point.Timestamp != nil {
			var err error
			timestamp, err = AlignTimestamp(*point.Timestamp, config.Resolution, config.Alignment)
			if err != nil {
				return nil, err
			}
		}

		step, err := deriveStep(point, config.StepMode, timestamp, base, int64(i))
		if err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(point.Values))
		for key := range point.Values {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			result = append(result, models.Metric{
				Key:       key,
				Value:     point.Values[key],
				Timestamp: timestamp,
				Step:      step,
			})
		}
	}

	return result, nil
}

func deriveStep(point models.MetricPoint, mode string, timestamp, base time.Time, index int64) (int64, error) {
	if point.Step != nil {
		return *point.Step, nil
	}

	switch mode {
	case "timestamp":
		// minutes elapsed since base
		return int64(timestamp.Sub(base).Minutes()), nil
	case "sequence":
		return index, nil
	case "auto":
		if point.Timestamp != nil {
			return int64(timestamp.Sub(base).Minutes()), nil
		}
		return index, nil
	default:
		return 0, fmt.Errorf("unsupported step mode: %s", mode)
	}
}
