package gattclient

import "time"

// Config holds the tunables of a Client and its discovery engine. The
// engine reads GATTTimeout, EscalatedSecurity and Logger;
// InitialSecurity, DefaultMTU and MaxMTU are carried but not read by
// any package of this module.
type Config struct {
	// GATTTimeout bounds how long a discovery procedure may run before
	// its watchdog fires.
	GATTTimeout time.Duration
	// InitialSecurity is the security level a freshly opened transport
	// starts at.
	InitialSecurity SecurityLevel
	// EscalatedSecurity is the level the escalator raises to on
	// INSUFF_ENC/AUTHENTICATION errors.
	EscalatedSecurity SecurityLevel
	// DefaultMTU is the ATT_MTU in effect before negotiation.
	DefaultMTU int
	// MaxMTU bounds the negotiated ATT_MTU.
	MaxMTU int
	Logger Logger
}

// DefaultConfig returns the package's recommended defaults.
func DefaultConfig() Config {
	return Config{
		GATTTimeout:       DefaultGATTTimeout,
		InitialSecurity:   SecurityLow,
		EscalatedSecurity: SecurityHigh,
		DefaultMTU:        DefaultMTU,
		MaxMTU:            MaxMTU,
		Logger:            NewLogger(),
	}
}

// Option configures a Config, following the functional-options pattern
// common for constructors that take an open-ended set of tunables.
type Option func(*Config)

// WithGATTTimeout overrides the discovery watchdog duration.
func WithGATTTimeout(d time.Duration) Option {
	return func(c *Config) { c.GATTTimeout = d }
}

// WithMTU overrides the default/max ATT_MTU.
func WithMTU(def, max int) Option {
	return func(c *Config) { c.DefaultMTU = def; c.MaxMTU = max }
}

// WithLogger overrides the default logrus-backed Logger.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Apply folds a list of Options onto DefaultConfig.
func Apply(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
