package index

import "math"

// normalizeVector L2-normalizes v when metric is cosine, matching
// vector_index_flat.cc's normalize_ flag ("cosine = normalize +
// inner-product", spec 4.7). Other metrics return v unchanged.
func normalizeVector(metric Metric, v []float32) []float32 {
	if metric != MetricCosine {
		return v
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// metricDistance returns a's distance to b under metric, smaller is
// nearer. Inner-product and cosine (which is inner-product over
// normalized vectors) are negated so every metric shares one
// smaller-is-closer convention.
func metricDistance(metric Metric, a, b []float32) float32 {
	switch metric {
	case MetricInnerProduct, MetricCosine:
		var dot float32
		for i := range a {
			dot += a[i] * b[i]
		}
		return -dot
	default: // MetricL2
		var sum float32
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return sum
	}
}
