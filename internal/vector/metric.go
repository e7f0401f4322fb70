package vector

import (
	"fmt"

	"github.com/viterin/vek/vek32"
)

// Metric names a distance function.
type Metric string

const (
	// MetricCosine is 1 - cosine similarity. Zero vectors have distance 1.
	MetricCosine Metric = "cosine"
	// MetricL2 is euclidean distance.
	MetricL2 Metric = "l2"
	// MetricDot is the negated inner product.
	MetricDot Metric = "dot"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricL2, MetricDot:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown distance metric: %q (supported: cosine, l2, dot)", s)
	}
}

// Distance returns the distance between a and b. Both must have the same length.
func (m Metric) Distance(a, b []float32) float32 {
	switch m {
	case MetricL2:
		return vek32.Distance(a, b)
	case MetricDot:
		return -vek32.Dot(a, b)
	default:
		na, nb := vek32.Norm(a), vek32.Norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - vek32.Dot(a, b)/(na*nb)
	}
}

// Similarity maps a distance to a score where larger is more similar.
func (m Metric) Similarity(distance float32) float64 {
	d := float64(distance)
	switch m {
	case MetricL2:
		return 1 / (1 + d)
	case MetricDot:
		return -d
	default:
		return 1 - d
	}
}

// Code returns the on-disk code of the metric.
func (m Metric) Code() uint8 {
	switch m {
	case MetricL2:
		return 1
	case MetricDot:
		return 2
	default:
		return 0
	}
}

// MetricFromCode is the inverse of Code.
func MetricFromCode(c uint8) (Metric, error) {
	switch c {
	case 0:
		return MetricCosine, nil
	case 1:
		return MetricL2, nil
	case 2:
		return MetricDot, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", c)
	}
}
