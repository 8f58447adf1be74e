package config

import "time"

// Propagation holds the tunables of the product update propagation engine.
// The defaults are engineering defaults, not contracts; operators are
// expected to tune them per deployment.
type Propagation struct {
	// PageSize bounds how many affected quote IDs are fetched per page.
	PageSize int `env:"PROPAGATION_PAGE_SIZE" envDefault:"500"`

	// Workers is the number of concurrent propagation tasks this process
	// drives. Each task still holds an exclusive per-product lease.
	Workers int `env:"PROPAGATION_WORKERS" envDefault:"4"`

	// PollInterval is how often idle workers look for claimable tasks.
	PollInterval time.Duration `env:"PROPAGATION_POLL_INTERVAL" envDefault:"1s"`

	// TaskRetryLimit bounds transient batch I/O retries before a task is
	// marked failed (checkpoint preserved).
	TaskRetryLimit int `env:"PROPAGATION_TASK_RETRY_LIMIT" envDefault:"3"`

	// QuoteConflictRetries bounds optimistic-concurrency retries for a
	// single quote within a batch.
	QuoteConflictRetries int `env:"PROPAGATION_QUOTE_CONFLICT_RETRIES" envDefault:"3"`

	// RetryBackoff is the base backoff for transient batch retries.
	RetryBackoff time.Duration `env:"PROPAGATION_RETRY_BACKOFF" envDefault:"200ms"`

	// BatchTimeout bounds a single batch write; no response within it
	// counts as a transient failure.
	BatchTimeout time.Duration `env:"PROPAGATION_BATCH_TIMEOUT" envDefault:"30s"`

	// LeaseTTL is the expiry of the per-product lease. A lease not renewed
	// within the TTL is reclaimable by another worker.
	LeaseTTL time.Duration `env:"PROPAGATION_LEASE_TTL" envDefault:"30s"`

	// LeaseRenewInterval must be shorter than LeaseTTL so a live task
	// never loses its lease.
	LeaseRenewInterval time.Duration `env:"PROPAGATION_LEASE_RENEW_INTERVAL" envDefault:"10s"`
}
