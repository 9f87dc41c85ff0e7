package store

// Config holds configuration for the Store.
type Config struct {
	// DiagnoseConflicts re-reads every key of a rejected create and logs which
	// ones were already taken. The extra reads never change the returned error.
	// Default: false
	DiagnoseConflicts bool

	// MaxPageSize caps list pages. A query limit of zero or less asks for
	// everything, which is then capped here.
	// Default: 0 (no cap)
	MaxPageSize int

	// BatchSize is how many entries a list or purge reads from the backend per
	// round trip.
	// Default: 100
	// Max: 1000
	BatchSize int

	// CompareAndSwapRetries, when positive, makes cart and wishlist updates
	// compare-and-swap with up to this many retries instead of a plain
	// read-modify-write.
	// Default: 0 (plain read-modify-write)
	CompareAndSwapRetries uint64
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		BatchSize: 100,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxPageSize < 0 {
		c.MaxPageSize = 0
	}
	if c.BatchSize < 1 {
		c.BatchSize = 100
	}
	if c.BatchSize > 1000 {
		c.BatchSize = 1000
	}
}
