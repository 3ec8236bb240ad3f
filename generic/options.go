package generic

import "go.uber.org/zap"

// Options carries the dependencies every service is constructed with.
// Zero fields get production defaults from WithDefaults.
type Options struct {
	Clock  Clock
	IDs    IDGenerator
	Retry  RetryPolicy
	Logger *zap.Logger
}

// WithDefaults fills unset fields: system clock, uuid ids, the default
// retry policy and a no-op logger.
func (o Options) WithDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.IDs == nil {
		o.IDs = NewUUID
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
