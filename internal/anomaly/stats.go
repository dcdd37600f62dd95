package anomaly

import "math"

const stdEpsilon = 1e-9

// meanStd returns the mean and population standard deviation (divisor N).
func meanStd(vals []float64) (mean, std float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean = sum / float64(len(vals))
	var sqDiff float64
	for _, v := range vals {
		d := v - mean
		sqDiff += d * d
	}
	std = math.Sqrt(sqDiff / float64(len(vals)))
	return mean, std
}

// safeDivisor substitutes eps for a non-positive divisor and passes anything else through.
func safeDivisor(v, eps float64) float64 {
	if v <= 0 {
		return eps
	}
	return v
}
