package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultListen is the dual-stack pair of scrape addresses.
var DefaultListen = []string{"[::]:9996", "0.0.0.0:9996"}

// Config holds all exporter configuration values. It is immutable once the
// exporter has started.
type Config struct {
	Listen          []string      // NVML_EXPORTER_LISTEN, comma-separated, default: DefaultListen
	ThrottleReasons bool          // NVML_EXPORTER_THROTTLE_REASONS, default: false
	Verbosity       int           // NVML_EXPORTER_VERBOSITY, default: 0 (errors only)
	DebugListen     string        // NVML_EXPORTER_DEBUG_LISTEN, default: "" (disabled)
	EvictStale      bool          // NVML_EXPORTER_EVICT_STALE, default: false
	ShutdownTimeout time.Duration // NVML_EXPORTER_SHUTDOWN_TIMEOUT, default: 0 (unbounded drain)

	Version string
}

// Load reads configuration from environment variables and returns a Config
// with defaults applied for any unset values. Flags bound with BindFlags
// take precedence over the environment.
func Load() Config {
	listen := parseStringSlice("NVML_EXPORTER_LISTEN")
	if len(listen) == 0 {
		listen = append([]string(nil), DefaultListen...)
	}
	return Config{
		Listen:          listen,
		ThrottleReasons: parseBool("NVML_EXPORTER_THROTTLE_REASONS", false),
		Verbosity:       parseInt("NVML_EXPORTER_VERBOSITY", 0),
		DebugListen:     os.Getenv("NVML_EXPORTER_DEBUG_LISTEN"),
		EvictStale:      parseBool("NVML_EXPORTER_EVICT_STALE", false),
		ShutdownTimeout: parseDuration("NVML_EXPORTER_SHUTDOWN_TIMEOUT", 0),
	}
}

// BindFlags registers the command line flags on fs, using the current
// values of c as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&c.Listen, "listen", "l", c.Listen, "address to serve metrics on, repeatable")
	fs.BoolVar(&c.ThrottleReasons, "throttle-reasons", c.ThrottleReasons, "collect current clock throttle reasons")
	fs.VarPF(&verbosityValue{v: &c.Verbosity}, "verbose", "v",
		"increase log verbosity, repeatable (-v warn, -vv info, -vvv debug, -vvvv trace)").NoOptDefVal = "+1"
	fs.StringVar(&c.DebugListen, "debug-listen", c.DebugListen, "address for health, self metrics and pprof endpoints, disabled when empty")
	fs.BoolVar(&c.EvictStale, "evict-stale", c.EvictStale, "remove series of devices that are no longer enumerated")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", c.ShutdownTimeout, "bound on draining in-flight scrapes at shutdown, 0 waits indefinitely")
}

// verbosityValue counts -v occurrences like pflag's count flag, but keeps
// the value it was created with until the flag is first given. pflag's own
// count flag zeroes its target on registration.
type verbosityValue struct {
	v   *int
	set bool
}

func (f *verbosityValue) Set(s string) error {
	if !f.set {
		*f.v = 0
		f.set = true
	}
	if s == "+1" {
		*f.v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f.v = n
	return nil
}

func (f *verbosityValue) String() string { return strconv.Itoa(*f.v) }

func (f *verbosityValue) Type() string { return "count" }

// parseDuration tries time.ParseDuration first, then falls back to treating
// the value as integer seconds.
func parseDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(v)
	if err == nil {
		return d
	}

	// Fallback: treat as integer seconds
	secs, err := strconv.Atoi(v)
	if err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultVal
}

func parseBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func parseInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func parseStringSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}
