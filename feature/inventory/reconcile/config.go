package reconcile

// Config holds the tunables of pending reservation verification.
type Config struct {
	// MaxTryCount is how many indeterminate verifications a row gets
	// before it is parked as UNKNOWN and handed to an operator.
	MaxTryCount int `mapstructure:"max_try_count" default:"3"`
	// PageSize is how many pending rows one sweep reads per page.
	PageSize int `mapstructure:"page_size" default:"100"`
	// IntervalSeconds is the sweep period.
	IntervalSeconds int `mapstructure:"interval_seconds" default:"60"`
	// PendingAgeMinutes is the grace period before a PENDING row is
	// considered stuck. Rows younger than this are presumed in flight.
	PendingAgeMinutes int `mapstructure:"pending_age_minutes" default:"5"`
}
