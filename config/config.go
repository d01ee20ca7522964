package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile = "netfuzz.yaml"
	PortPlaceholder   = "%port%"
)

// AppConfig is loaded once at startup and not modified afterwards.
type AppConfig struct {
	BasePort      int      `yaml:"baseport"`
	Debug         bool     `yaml:"debug"`
	NoFork        bool     `yaml:"nofork"`
	OutcomeDir    string   `yaml:"outcome_dir"`
	Fuzzer        string   `yaml:"fuzzer"`
	TargetBin     string   `yaml:"target_bin"`
	TargetArgs    []string `yaml:"target_args"`
	DebugWithFile bool     `yaml:"DebugWithFile"`
	LogDir        string   `yaml:"log_dir"`
	InputDir      string   `yaml:"input_dir"`
	Workers       int      `yaml:"workers"`
	InitialSeed   int64    `yaml:"seed"`
	WorkerBin     string   `yaml:"worker_bin"`
	RadamsaPath   string   `yaml:"radamsa_path"`
	MetricsAddr   string   `yaml:"metrics_addr"`

	Timing TimingConfig `yaml:",inline"`

	DatabaseURL        string `yaml:"-"`
	RedisUrl           string `yaml:"-"`
	RedisSentinelHosts string `yaml:"-"`
	RedisMasterName    string `yaml:"-"`
	RabbitMQURL        string `yaml:"-"`
	LogLevel           string `yaml:"-"`
	ServiceName        string `yaml:"-"`
	TelemetryEnabled   bool   `yaml:"-"`
}

type TimingConfig struct {
	ReportInterval   time.Duration `yaml:"report_interval"`    // stats message interval
	DebugDelay       time.Duration `yaml:"debug_delay"`        // per-iteration sleep in debug mode
	ServerStartDelay time.Duration `yaml:"server_start_delay"` // wait after the server is up
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`    // how long to wait for the target to connect
	ProcessTimeout   time.Duration `yaml:"process_timeout"`    // how long the target may run per iteration
}

func Default() *AppConfig {
	return &AppConfig{
		BasePort:    20000,
		OutcomeDir:  "./out",
		Fuzzer:      "radamsa",
		TargetArgs:  []string{"--port", PortPlaceholder},
		Workers:     1,
		RadamsaPath: "radamsa",
		Timing: TimingConfig{
			ReportInterval:   3 * time.Second,
			DebugDelay:       500 * time.Millisecond,
			ServerStartDelay: time.Second,
			ConnectTimeout:   2 * time.Second,
			ProcessTimeout:   3 * time.Second,
		},
		LogLevel:    "info",
		ServiceName: "netfuzz",
	}
}

// LoadConfig loads the configuration and exits the process when it is invalid.
func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found")
	}

	path := os.Getenv("NETFUZZ_CONFIG")
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	config, err := Load(path)
	if err != nil {
		logger.Fatal("invalid configuration", zap.String("file", path), zap.Error(err))
	}
	return config
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result.
func Load(path string) (*AppConfig, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if config.LogDir == "" {
		config.LogDir = filepath.Join(config.OutcomeDir, "logs")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *AppConfig) applyEnv() error {
	var errs []error
	setString(&c.OutcomeDir, "NETFUZZ_OUTCOME_DIR")
	setString(&c.Fuzzer, "NETFUZZ_FUZZER")
	setString(&c.TargetBin, "NETFUZZ_TARGET_BIN")
	setString(&c.InputDir, "NETFUZZ_INPUT_DIR")
	setString(&c.LogDir, "NETFUZZ_LOG_DIR")
	setString(&c.WorkerBin, "NETFUZZ_WORKER_BIN")
	setString(&c.MetricsAddr, "NETFUZZ_METRICS_ADDR")
	errs = append(errs,
		setInt(&c.BasePort, "NETFUZZ_BASEPORT"),
		setInt(&c.Workers, "NETFUZZ_WORKERS"),
		setInt64(&c.InitialSeed, "NETFUZZ_SEED"),
		setBool(&c.Debug, "NETFUZZ_DEBUG"),
		setBool(&c.NoFork, "NETFUZZ_NOFORK"),
		setBool(&c.DebugWithFile, "NETFUZZ_DEBUG_WITH_FILE"),
		setDuration(&c.Timing.ReportInterval, "NETFUZZ_REPORT_INTERVAL"),
	)

	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.RedisUrl, "REDIS_URL")
	setString(&c.RedisSentinelHosts, "REDIS_SENTINEL_HOSTS")
	setString(&c.RedisMasterName, "REDIS_MASTER")
	setString(&c.RabbitMQURL, "RABBITMQ_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ServiceName, "SERVICE_NAME")
	c.TelemetryEnabled = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
	return errors.Join(errs...)
}

// Validate checks the settings every worker relies on.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.TargetBin == "" {
		errs = append(errs, errors.New("target_bin is required"))
	}
	if c.InputDir == "" {
		errs = append(errs, errors.New("input_dir is required"))
	}
	if c.OutcomeDir == "" {
		errs = append(errs, errors.New("outcome_dir is required"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.NoFork && c.Workers != 1 {
		errs = append(errs, errors.New("nofork runs exactly one worker"))
	}
	if err := c.validatePorts(); err != nil {
		errs = append(errs, err)
	}
	if c.Timing.ReportInterval <= 0 {
		errs = append(errs, errors.New("report_interval must be positive"))
	}
	if c.Timing.ConnectTimeout <= 0 || c.Timing.ProcessTimeout <= 0 {
		errs = append(errs, errors.New("connect_timeout and process_timeout must be positive"))
	}
	if c.Timing.DebugDelay < 0 || c.Timing.ServerStartDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	return errors.Join(errs...)
}

// WorkerPort is the TCP port the worker with the given id listens on.
func (c *AppConfig) WorkerPort(workerID int) int {
	return c.BasePort + workerID
}

func (c *AppConfig) validatePorts() error {
	seen := make(map[int]int, c.Workers)
	for id := range c.Workers {
		port := c.WorkerPort(id)
		if port < 1 || port > 65535 {
			return fmt.Errorf("worker %d: port %d out of range", id, port)
		}
		if other, ok := seen[port]; ok {
			return fmt.Errorf("workers %d and %d share port %d", other, id, port)
		}
		seen[port] = id
	}
	return nil
}

// TargetCommandArgs returns the target arguments with the port filled in.
func (c *AppConfig) TargetCommandArgs(port int) []string {
	args := make([]string, len(c.TargetArgs))
	for i, arg := range c.TargetArgs {
		args[i] = strings.ReplaceAll(arg, PortPlaceholder, strconv.Itoa(port))
	}
	return args
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func setInt64(dst *int64, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
