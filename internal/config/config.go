package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Encoder backends.
const (
	BackendGRPC   = "grpc"
	BackendWorker = "worker"
)

// Config is the service configuration. Values come from defaults, then an
// optional TOML file, then environment variables.
type Config struct {
	Server   ServerConfig  `toml:"server"`
	Faces    FacesConfig   `toml:"faces"`
	Encoder  EncoderConfig `toml:"encoder"`
	Redis    RedisConfig   `toml:"redis"`
	LogLevel string        `toml:"log_level"`
}

type ServerConfig struct {
	Addr             string   `toml:"addr"`
	ShutdownTimeout  Duration `toml:"shutdown_timeout"`
	DashboardResults int      `toml:"dashboard_results"`
}

type FacesConfig struct {
	KnownDir   string  `toml:"known_dir"`
	MaxResults int     `toml:"max_results"`
	Tolerance  float64 `toml:"tolerance"`
}

type EncoderConfig struct {
	Backend   string   `toml:"backend"`
	Addr      string   `toml:"addr"`
	Timeout   Duration `toml:"timeout"`
	WorkerCmd string   `toml:"worker_cmd"`
}

type RedisConfig struct {
	Addr string   `toml:"addr"` // empty disables the encoding cache
	TTL  Duration `toml:"ttl"`
}

// Duration lets TOML files use strings such as "15s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":5000",
			ShutdownTimeout:  Duration{15 * time.Second},
			DashboardResults: 20,
		},
		Faces: FacesConfig{
			KnownDir:   "known_faces",
			MaxResults: 50,
			Tolerance:  0.6,
		},
		Encoder: EncoderConfig{
			Backend:   BackendGRPC,
			Addr:      "face-encoder:50051",
			Timeout:   Duration{30 * time.Second},
			WorkerCmd: "python3 -u python/encoder_worker.py",
		},
		Redis: RedisConfig{
			TTL: Duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded into the environment first when present; path may be empty.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("FACEWATCH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	envString("HTTP_ADDR", &c.Server.Addr)
	envString("KNOWN_FACES_DIR", &c.Faces.KnownDir)
	envString("ENCODER_BACKEND", &c.Encoder.Backend)
	envString("FACE_ENCODER_ADDR", &c.Encoder.Addr)
	envString("FACE_WORKER_CMD", &c.Encoder.WorkerCmd)
	envString("REDIS_ADDR", &c.Redis.Addr)
	envString("LOG_LEVEL", &c.LogLevel)
	errs = append(errs,
		envInt("MAX_RESULTS", &c.Faces.MaxResults),
		envInt("DASHBOARD_RESULTS", &c.Server.DashboardResults),
		envFloat("MATCH_TOLERANCE", &c.Faces.Tolerance),
		envDuration("ENCODER_TIMEOUT", &c.Encoder.Timeout),
		envDuration("ENCODING_CACHE_TTL", &c.Redis.TTL),
		envDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout),
	)
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !(c.Faces.Tolerance > 0) || math.IsInf(c.Faces.Tolerance, 1) {
		errs = append(errs, fmt.Errorf("match tolerance must be a positive finite number, got %v", c.Faces.Tolerance))
	}
	if c.Faces.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("max results must be at least 1, got %d", c.Faces.MaxResults))
	}
	if c.Server.DashboardResults < 1 {
		errs = append(errs, fmt.Errorf("dashboard results must be at least 1, got %d", c.Server.DashboardResults))
	}
	if c.Faces.KnownDir == "" {
		errs = append(errs, errors.New("known faces directory is required"))
	}
	switch c.Encoder.Backend {
	case BackendGRPC:
		if c.Encoder.Addr == "" {
			errs = append(errs, errors.New("encoder address is required for the grpc backend"))
		}
	case BackendWorker:
		if len(c.WorkerCommand()) == 0 {
			errs = append(errs, errors.New("worker command is required for the worker backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown encoder backend %q", c.Encoder.Backend))
	}
	return errors.Join(errs...)
}

// WorkerCommand splits the configured worker command line on whitespace.
func (c *Config) WorkerCommand() []string {
	return strings.Fields(c.Encoder.WorkerCmd)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	dst.Duration = d
	return nil
}
