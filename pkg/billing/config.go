package billing

import "time"

// Config holds service-level billing settings read from BILLING_* variables.
type Config struct {
	PricingFile      string        `env:"BILLING_PRICING_FILE" envDefault:"config/pricing.yaml"`
	DedupeTTL        time.Duration `env:"BILLING_DEDUPE_TTL" envDefault:"72h"`
	MaxWriteAttempts int           `env:"BILLING_MAX_WRITE_ATTEMPTS" envDefault:"3"`
}
