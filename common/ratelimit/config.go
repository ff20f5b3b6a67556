package ratelimit

// TriggerConfig defines the limit applied to one trigger surface
type TriggerConfig struct {
	Limit         int64  // Requests allowed per window
	WindowSeconds int    // Time window in seconds
	Description   string // Human-readable description
}

// DefaultLossTrigger bounds loss-triggered runs per trading pair
var DefaultLossTrigger = TriggerConfig{
	Limit:         10,
	WindowSeconds: 3600,
	Description:   "Loss-triggered runs - 10 per pair per hour",
}

// DefaultManualTrigger bounds manual runs service-wide
var DefaultManualTrigger = TriggerConfig{
	Limit:         30,
	WindowSeconds: 60,
	Description:   "Manual runs - 30 per minute",
}

// LossTrigger returns the loss trigger config with the limit overridden when positive
func LossTrigger(limit int64) TriggerConfig {
	cfg := DefaultLossTrigger
	if limit > 0 {
		cfg.Limit = limit
	}
	return cfg
}
