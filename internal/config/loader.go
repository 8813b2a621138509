package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AUTOFLOW_"

// Load builds the configuration from defaults, the YAML file at path and the
// environment, then validates it. A missing file is not an error unless
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decode(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := NewValidator().Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode expands ${VAR} references and unmarshals over cfg. Unknown keys are
// rejected.
func decode(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overlays AUTOFLOW_* variables onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_PATH", &cfg.Store.Path)
	str("EVENTS_BACKEND", &cfg.Events.Backend)
	str("OTEL_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTEL_SERVICE_NAME", &cfg.Telemetry.ServiceName)

	if v, ok := lookup(EnvPrefix + "OTEL_INSECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("OTEL_INSECURE", v, err)
		}
		cfg.Telemetry.Insecure = b
	}
	if v, ok := lookup(EnvPrefix + "MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("MAX_RETRIES", v, err)
		}
		cfg.Engine.MaxRetries = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"RETRY_DELAY", &cfg.Engine.RetryDelay},
		{"MAX_RETRY_DELAY", &cfg.Engine.MaxRetryDelay},
		{"READY_TIMEOUT", &cfg.Engine.ReadyTimeout},
		{"PROVIDER_TIMEOUT", &cfg.Retry.CallTimeout},
	}
	for _, d := range durations {
		v, ok := lookup(EnvPrefix + d.name)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return envError(d.name, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

func envError(name, value string, err error) error {
	return fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, value, err)
}
