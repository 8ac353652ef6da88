package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Configuration structs
// --------------------------------------------------------------------------

// Engine names
const (
	EngineBolt   = "bolt"
	EnginePebble = "pebble"
	EngineMemory = "memory"
)

// Options configure the engine of an environment and the record format of its
// databases. Zero values mean "not set" and are filled from the enclosing layer.
type Options struct {
	Engine        string `mapstructure:"engine"`         // bolt, pebble or memory
	NoSync        *bool  `mapstructure:"no-sync"`        // skip fsync on commit
	MmapSizeMB    int    `mapstructure:"mmap-size-mb"`   // bolt initial mmap size
	CacheMB       int64  `mapstructure:"cache-mb"`       // pebble block cache
	Compression   string `mapstructure:"compression"`    // none, snappy, zstd or lz4
	TimeoutSecond int    `mapstructure:"timeout-second"` // wait for the environment file lock
}

// Merge returns o with every field set in other replaced.
func (o Options) Merge(other Options) Options {
	if other.Engine != "" {
		o.Engine = other.Engine
	}
	if other.NoSync != nil {
		noSync := *other.NoSync
		o.NoSync = &noSync
	}
	if other.MmapSizeMB != 0 {
		o.MmapSizeMB = other.MmapSizeMB
	}
	if other.CacheMB != 0 {
		o.CacheMB = other.CacheMB
	}
	if other.Compression != "" {
		o.Compression = other.Compression
	}
	if other.TimeoutSecond != 0 {
		o.TimeoutSecond = other.TimeoutSecond
	}
	return o
}

// DatabaseConfig configures one database (a bucket inside an environment).
type DatabaseConfig struct {
	// InheritEnvironment layers Options and Functions on top of the environment's
	// (default) instead of the global defaults.
	InheritEnvironment *bool             `mapstructure:"inherit-environment"`
	Options            Options           `mapstructure:"options"`
	Functions          map[string]string `mapstructure:"functions"`
}

func (c DatabaseConfig) inherits() bool {
	return c.InheritEnvironment == nil || *c.InheritEnvironment
}

// EnvironmentConfig configures one environment (one engine instance on disk).
type EnvironmentConfig struct {
	// InheritDefaults layers Options and Functions on top of the global
	// defaults (default).
	InheritDefaults *bool                     `mapstructure:"inherit-defaults"`
	Options         Options                   `mapstructure:"options"`
	Functions       map[string]string         `mapstructure:"functions"`
	Databases       map[string]DatabaseConfig `mapstructure:"databases"`
}

func (c EnvironmentConfig) inherits() bool {
	return c.InheritDefaults == nil || *c.InheritDefaults
}

// Config is the registry configuration.
type Config struct {
	DataDir   string            `mapstructure:"data-dir"`
	KeepWarm  bool              `mapstructure:"keep-warm"` // keep environments open without handles
	Defaults  Options           `mapstructure:"defaults"`
	Functions map[string]string `mapstructure:"functions"` // default function table

	Environments map[string]EnvironmentConfig `mapstructure:"environments"`

	// Templates for environments and databases that are not configured
	// statically. nil disables dynamic provisioning.
	DynamicEnvironment *EnvironmentConfig `mapstructure:"dynamic-environment"`
	DynamicDatabase    *DatabaseConfig    `mapstructure:"dynamic-database"`
}

// DefaultMmapSizeMB is the initial bolt mmap. bbolt remaps when the file
// outgrows it, and a remap waits for every open read transaction, so a
// long range scan would stall writers on a small map.
const DefaultMmapSizeMB = 64

// DefaultOptions are used below Config.Defaults.
func DefaultOptions() Options {
	return Options{
		Engine:        EngineBolt,
		MmapSizeMB:    DefaultMmapSizeMB,
		Compression:   store.CompressionSnappy.String(),
		TimeoutSecond: 5,
	}
}

// --------------------------------------------------------------------------
// Resolution
// --------------------------------------------------------------------------

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// ValidName reports whether name can be used for an environment or database.
// Names end up in file paths, so separators and dot-only names are rejected.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && strings.Trim(name, ".") != ""
}

// environment returns the configuration for env, falling back to the dynamic template.
func (c *Config) environment(env string) (EnvironmentConfig, bool) {
	if ec, ok := c.Environments[env]; ok {
		return ec, true
	}
	if c.DynamicEnvironment != nil {
		return *c.DynamicEnvironment, true
	}
	return EnvironmentConfig{}, false
}

// database returns the configuration for db inside ec, falling back to the dynamic template.
func (c *Config) database(ec EnvironmentConfig, db string) (DatabaseConfig, bool) {
	if dc, ok := ec.Databases[db]; ok {
		return dc, true
	}
	if c.DynamicDatabase != nil {
		return *c.DynamicDatabase, true
	}
	return DatabaseConfig{}, false
}

// envLayers returns the options and function layers of an environment.
func (c *Config) envLayers(ec EnvironmentConfig) (Options, []map[string]string) {
	if !ec.inherits() {
		return DefaultOptions().Merge(ec.Options), []map[string]string{ec.Functions}
	}
	opts := DefaultOptions().Merge(c.Defaults).Merge(ec.Options)
	return opts, []map[string]string{c.Functions, ec.Functions}
}

// dbLayers returns the options and function layers of a database.
func (c *Config) dbLayers(ec EnvironmentConfig, dc DatabaseConfig) (Options, []map[string]string) {
	if !dc.inherits() {
		opts := DefaultOptions().Merge(c.Defaults).Merge(dc.Options)
		return opts, []map[string]string{c.Functions, dc.Functions}
	}
	opts, fns := c.envLayers(ec)
	return opts.Merge(dc.Options), append(fns, dc.Functions)
}

// Validate checks names, engines and compressions of the static configuration.
func (c *Config) Validate() error {
	check := func(where string, o Options) error {
		switch o.Engine {
		case "", EngineBolt, EnginePebble, EngineMemory:
		default:
			return fmt.Errorf("%s: unknown engine %q", where, o.Engine)
		}
		if o.Compression != "" {
			if _, err := store.ParseCompression(o.Compression); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
		}
		return nil
	}

	if err := check("defaults", c.Defaults); err != nil {
		return err
	}
	for env, ec := range c.Environments {
		if !ValidName(env) {
			return fmt.Errorf("invalid environment name %q", env)
		}
		if err := check("environment "+env, ec.Options); err != nil {
			return err
		}
		for db, dc := range ec.Databases {
			if !ValidName(db) {
				return fmt.Errorf("environment %s: invalid database name %q", env, db)
			}
			if err := check("database "+env+"/"+db, dc.Options); err != nil {
				return err
			}
		}
	}
	if c.DynamicEnvironment != nil {
		if err := check("dynamic environment", c.DynamicEnvironment.Options); err != nil {
			return err
		}
	}
	if c.DynamicDatabase != nil {
		if err := check("dynamic database", c.DynamicDatabase.Options); err != nil {
			return err
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Registry")
	addField("Data Directory", c.DataDir)
	addField("Keep Warm", fmt.Sprintf("%t", c.KeepWarm))
	addField("Dynamic Environments", fmt.Sprintf("%t", c.DynamicEnvironment != nil))
	addField("Dynamic Databases", fmt.Sprintf("%t", c.DynamicDatabase != nil))

	defaults := DefaultOptions().Merge(c.Defaults)
	addSection("Defaults")
	addField("Engine", defaults.Engine)
	addField("Compression", defaults.Compression)

	envs := make([]string, 0, len(c.Environments))
	for env := range c.Environments {
		envs = append(envs, env)
	}
	sort.Strings(envs)

	addSection("Environments")
	for _, env := range envs {
		dbs := make([]string, 0, len(c.Environments[env].Databases))
		for db := range c.Environments[env].Databases {
			dbs = append(dbs, db)
		}
		sort.Strings(dbs)
		addField(env, strings.Join(dbs, ", "))
	}
	return sb.String()
}
