package control

// KalmanFilter estimates a scalar that performs a random walk from noisy
// measurements of it.
type KalmanFilter struct {
	X float64 // current estimate
	P float64 // variance of the estimate

	initialized bool
}

// NewKalmanFilter returns a filter whose first measurement is weighted
// against the initial variance p0.
func NewKalmanFilter(p0 float64) *KalmanFilter {
	return &KalmanFilter{P: p0}
}

// Predict adds process noise of variance q.
func (f *KalmanFilter) Predict(q float64) {
	f.P += q
}

// Update folds in measurement z of variance r and returns the new estimate.
// The first update adopts z as the estimate.
func (f *KalmanFilter) Update(z, r float64) float64 {
	k := f.P / (f.P + r)
	if !f.initialized {
		f.X = z
		f.initialized = true
	} else {
		f.X += k * (z - f.X)
	}
	f.P = (1 - k) * f.P
	return f.X
}

// Reset forgets the estimate and restores the variance p0.
func (f *KalmanFilter) Reset(p0 float64) {
	f.X, f.P, f.initialized = 0, p0, false
}
