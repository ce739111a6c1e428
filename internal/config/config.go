// Package config defines the settings the core reads per spec.md §6.
// Loading these values from files/environment is the CLI front end's job
// (out of scope here); this package only defines the shape plus defaults
// and light validation, the way the teacher's internal/shared/config
// exposes a plain struct consumed via constructors.
package config

import (
	"fmt"
	"time"
)

// TLSMode controls how the database connection negotiates TLS.
type TLSMode string

const (
	TLSDisable TLSMode = "disable"
	TLSPrefer  TLSMode = "prefer"
	TLSRequire TLSMode = "require"
)

// Database holds RelationalStore connection parameters.
type Database struct {
	DSN         string
	MinConns    int32
	MaxConns    int32
	TLSMode     TLSMode
	ConnTimeout time.Duration
}

// PushServer holds PushServer listener and rate-limit parameters.
type PushServer struct {
	Host           string
	Port           int
	MaxConnections int
	Rate           float64 // tokens/sec
	Burst          float64 // bucket capacity; 0 means 1.5*Rate
	CleanupInterval time.Duration

	JWTSecret    string
	TokenExpiry  time.Duration
	AuthDisabled bool

	TLSCertPath   string
	TLSKeyPath    string
	TLSCAPath     string
	TLSClientAuth bool
}

// Broadcaster holds Broadcaster buffering parameters.
type Broadcaster struct {
	BufferEnabled bool
	BufferSize    int
}

// ImportFilter holds IssueImporter acceptance rules.
type ImportFilter struct {
	RepoAllowList  []string
	LabelAllowList []string
	SkipClosed     bool
	TitlePattern   string // optional regexp source; "" disables the check
}

// Config aggregates every setting the core consumes.
type Config struct {
	Database    Database
	Push        PushServer
	Broadcaster Broadcaster
	Import      ImportFilter
}

// Default returns conservative defaults matching spec.md's stated defaults
// (burst = 1.5x rate, cleanup interval 300s, buffer capacity 1000).
func Default() Config {
	return Config{
		Database: Database{
			MinConns:    1,
			MaxConns:    10,
			TLSMode:     TLSPrefer,
			ConnTimeout: 5 * time.Second,
		},
		Push: PushServer{
			Host:            "0.0.0.0",
			Port:            8443,
			MaxConnections:  10000,
			Rate:            100,
			Burst:           150,
			CleanupInterval: 300 * time.Second,
			TokenExpiry:     24 * time.Hour,
		},
		Broadcaster: Broadcaster{
			BufferEnabled: false,
			BufferSize:    1000,
		},
	}
}

// Validate checks invariants that the rest of the core assumes hold.
func (c Config) Validate() error {
	if c.Database.MinConns < 0 || c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("config: invalid pool bounds [%d,%d]", c.Database.MinConns, c.Database.MaxConns)
	}
	switch c.Database.TLSMode {
	case TLSDisable, TLSPrefer, TLSRequire:
	default:
		return fmt.Errorf("config: invalid tls mode %q", c.Database.TLSMode)
	}
	if c.Push.Rate <= 0 {
		return fmt.Errorf("config: push rate must be positive")
	}
	return nil
}

// EffectiveBurst returns the configured burst, defaulting to 1.5x the rate.
func (p PushServer) EffectiveBurst() float64 {
	if p.Burst > 0 {
		return p.Burst
	}
	return p.Rate * 1.5
}
