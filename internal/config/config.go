package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/corpusd/internal/converter"
)

// DefaultAllowedOrigins are the editor origins accepted when
// CORPUSD_ALLOWED_ORIGINS is unset. Set it to "*" to accept any origin.
var DefaultAllowedOrigins = []string{
	"http://localhost:3045",
	"http://s-csi.init.ai.s3-website-us-east-1.amazonaws.com",
	"https://p-csi.init.ai",
	"https://csi.init.ai",
}

type Config struct {
	Port             int
	Root             string
	Converter        string
	ConverterTimeout time.Duration
	WatchDebounce    time.Duration
	TLSCert          string
	TLSKey           string
	AllowedOrigins   []string
	NatsURL          string
	NatsToken        string
	DatabaseURL      string
	LogLevel         string
}

func Load() Config {
	return Config{
		Port:             envInt("CORPUSD_PORT", 8443),
		Root:             envStr("CORPUSD_ROOT", "language/conversations"),
		Converter:        envStr("CORPUSD_CONVERTER", DefaultConverter(runtime.GOOS)),
		ConverterTimeout: envDuration("CORPUSD_CONVERTER_TIMEOUT", 0),
		WatchDebounce:    envDuration("CORPUSD_WATCH_DEBOUNCE", 100*time.Millisecond),
		TLSCert:          envStr("CORPUSD_TLS_CERT", ""),
		TLSKey:           envStr("CORPUSD_TLS_KEY", ""),
		AllowedOrigins:   envList("CORPUSD_ALLOWED_ORIGINS", DefaultAllowedOrigins),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		LogLevel:         envStr("LOG_LEVEL", "info"),
	}
}

// DefaultConverter is the converter shipped next to the server for goos.
func DefaultConverter(goos string) string {
	return filepath.Join("bin", converter.BinaryName(goos))
}

// TLS reports whether the server should terminate TLS itself.
func (c Config) TLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// Validate checks the values Load cannot reject on its own.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("corpus root is required"))
	}
	if c.Converter == "" {
		errs = append(errs, errors.New("converter path is required"))
	}
	if c.ConverterTimeout < 0 {
		errs = append(errs, fmt.Errorf("converter timeout %s is negative", c.ConverterTimeout))
	}
	if c.WatchDebounce < 0 {
		errs = append(errs, fmt.Errorf("watch debounce %s is negative", c.WatchDebounce))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("TLS needs both a certificate and a key"))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("5s") or plain milliseconds ("5000").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return slices.Clone(fallback)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
