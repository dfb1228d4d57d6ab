// Package settings loads the persistence build and runtime settings from YAML.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sqlpersistence/internal/dialect"
)

// Defaults applied when a field is omitted.
const (
	DefaultCleanupFrequency = time.Minute
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultCleanupBatchSize = 10000
	DefaultCacheTTL         = 5 * time.Second
)

// Settings configures which scripts are produced and how runtime components
// behave.
type Settings struct {
	// Dialects lists the databases to produce scripts for. At least one is required.
	Dialects []dialect.Dialect `yaml:"dialects"`

	// EndpointName derives the table prefix when TablePrefix is empty.
	EndpointName string `yaml:"endpoint_name,omitempty"`

	// TablePrefix is prepended to every table name.
	TablePrefix string `yaml:"table_prefix,omitempty"`

	// Schema qualifies table names. Empty selects the dialect default.
	Schema string `yaml:"schema,omitempty"`

	// ColumnEncryption parameterizes values written to columns that SQL
	// Server may encrypt client-side.
	ColumnEncryption bool `yaml:"column_encryption,omitempty"`

	// Produce selects which script families are written.
	Produce Produce `yaml:"produce,omitempty"`

	// ScriptPromotionPath receives a copy of every generated script.
	ScriptPromotionPath string `yaml:"script_promotion_path,omitempty"`

	Outbox       OutboxSettings       `yaml:"outbox,omitempty"`
	Subscription SubscriptionSettings `yaml:"subscription,omitempty"`
}

// Produce toggles script families. Omitted toggles default to on.
type Produce struct {
	Sagas         *bool `yaml:"sagas,omitempty"`
	Outbox        *bool `yaml:"outbox,omitempty"`
	Subscriptions *bool `yaml:"subscriptions,omitempty"`
	Timeouts      *bool `yaml:"timeouts,omitempty"`
}

func enabled(b *bool) bool { return b == nil || *b }

func (p Produce) SagasEnabled() bool         { return enabled(p.Sagas) }
func (p Produce) OutboxEnabled() bool        { return enabled(p.Outbox) }
func (p Produce) SubscriptionsEnabled() bool { return enabled(p.Subscriptions) }
func (p Produce) TimeoutsEnabled() bool      { return enabled(p.Timeouts) }

// OutboxSettings configures the outbox cleaner.
type OutboxSettings struct {
	DisableCleanup   bool          `yaml:"disable_cleanup,omitempty"`
	CleanupFrequency time.Duration `yaml:"cleanup_frequency,omitempty"`
	Retention        time.Duration `yaml:"retention,omitempty"`
	BatchSize        int           `yaml:"batch_size,omitempty"`
}

// SubscriptionSettings configures the subscriber cache.
type SubscriptionSettings struct {
	// CacheTTL of zero uses the default; a negative value disables caching.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

// Default returns settings with every default applied and no dialects.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Load reads settings from a YAML file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return Parse(data)
}

// Parse decodes settings, rejecting unknown fields, and applies defaults.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Outbox.CleanupFrequency == 0 {
		s.Outbox.CleanupFrequency = DefaultCleanupFrequency
	}
	if s.Outbox.Retention == 0 {
		s.Outbox.Retention = DefaultRetention
	}
	if s.Outbox.BatchSize == 0 {
		s.Outbox.BatchSize = DefaultCleanupBatchSize
	}
	if s.Subscription.CacheTTL == 0 {
		s.Subscription.CacheTTL = DefaultCacheTTL
	}
}

// Validate checks required fields and identifier safety.
func (s *Settings) Validate() error {
	var errs []error
	if len(s.Dialects) == 0 {
		errs = append(errs, errors.New("at least one dialect is required"))
	}
	seen := make(map[dialect.Dialect]bool)
	for _, d := range s.Dialects {
		if seen[d] {
			errs = append(errs, fmt.Errorf("dialect %s listed twice", d))
		}
		seen[d] = true
	}
	if strings.ContainsAny(s.TablePrefix, "[]`\"';") {
		errs = append(errs, fmt.Errorf("table_prefix %q contains a SQL delimiter", s.TablePrefix))
	}
	if strings.ContainsAny(s.Schema, "[]`\"';") {
		errs = append(errs, fmt.Errorf("schema %q contains a SQL delimiter", s.Schema))
	}
	if s.Outbox.CleanupFrequency < 0 || s.Outbox.Retention < 0 || s.Outbox.BatchSize < 0 {
		errs = append(errs, errors.New("outbox cleanup settings must not be negative"))
	}
	return errors.Join(errs...)
}

// Prefix returns the configured table prefix, falling back to one derived
// from the endpoint name.
func (s *Settings) Prefix() string {
	if s.TablePrefix != "" || s.EndpointName == "" {
		return s.TablePrefix
	}
	return dialect.DefaultTablePrefix(s.EndpointName)
}

// Profile builds the dialect profile for d.
func (s *Settings) Profile(d dialect.Dialect) (dialect.Profile, error) {
	p, err := dialect.NewProfile(d, s.Prefix(), s.Schema)
	if err != nil {
		return dialect.Profile{}, err
	}
	p.ColumnEncryption = s.ColumnEncryption
	return p, nil
}
