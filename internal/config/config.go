// Package config loads appliance configuration from the environment,
// an optional .env file, and an optional YAML overlay.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Server
	ServerPort string `yaml:"server_port"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`

	// Orchestration
	HistorySize       int           `yaml:"history_size"`
	OrphanTimeout     time.Duration `yaml:"-"`
	ReapInterval      time.Duration `yaml:"-"`
	MaxGenerationTime time.Duration `yaml:"-"`
	ForceFallback     bool          `yaml:"emergency_mode"`
	AutoEmergency     bool          `yaml:"auto_emergency"`
	BackendURL        string        `yaml:"backend_url"`

	// Health monitoring
	HealthInterval   time.Duration `yaml:"-"`
	ModelPaths       []string      `yaml:"model_paths"`
	MinFreeMemoryGB  float64       `yaml:"min_free_memory_gb"`
	MaxMemoryPercent float64       `yaml:"max_memory_percent"`
	MinFreeDiskGB    float64       `yaml:"min_free_disk_gb"`
	TempDirs         []string      `yaml:"temp_dirs"`

	// Telemetry and events
	TelemetryInterval time.Duration `yaml:"-"`
	SubscriberBuffer  int           `yaml:"subscriber_buffer"`

	// Platform
	Platform        string `yaml:"platform"` // configured class; empty means trust detection
	ForceSnapdragon bool   `yaml:"snapdragon_npu"`
	ForceCPU        bool   `yaml:"force_cpu_mode"`

	// Storage
	AssetsDir         string  `yaml:"assets_dir"`
	GeneratedDir      string  `yaml:"generated_dir"`
	FallbackTimeScale float64 `yaml:"fallback_time_scale"`
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables always win over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServerPort: getEnv("BATTLE_SERVER_PORT", "5000"),

		LogFile:  getEnv("BATTLE_LOG_FILE", filepath.Join(os.TempDir(), "battle-server.log")),
		LogLevel: parseLogLevel(getEnv("BATTLE_LOG_LEVEL", "INFO")),

		HistorySize:       getEnvInt("BATTLE_HISTORY_SIZE", 20),
		OrphanTimeout:     getEnvDuration("BATTLE_ORPHAN_TIMEOUT", 300*time.Second),
		ReapInterval:      getEnvDuration("BATTLE_REAP_INTERVAL", 10*time.Second),
		MaxGenerationTime: getEnvDuration("BATTLE_MAX_GENERATION_TIME", 120*time.Second),
		ForceFallback:     getEnvBool("EMERGENCY_MODE"),
		AutoEmergency:     getEnvBoolDefault("BATTLE_AUTO_EMERGENCY", true),
		BackendURL:        getEnv("BATTLE_BACKEND_URL", ""),

		HealthInterval:   getEnvDuration("BATTLE_HEALTH_INTERVAL", 30*time.Second),
		ModelPaths:       getEnvList("BATTLE_MODEL_PATHS", []string{"models/sdxl-base-1.0", "models/sdxl_snapdragon_optimized"}),
		MinFreeMemoryGB:  getEnvThreshold("BATTLE_MIN_FREE_MEMORY_GB", 2),
		MaxMemoryPercent: getEnvFloat("BATTLE_MAX_MEMORY_PERCENT", 90),
		MinFreeDiskGB:    getEnvThreshold("BATTLE_MIN_FREE_DISK_GB", 1),
		TempDirs:         getEnvList("BATTLE_TEMP_DIRS", []string{os.TempDir()}),

		TelemetryInterval: getEnvDuration("BATTLE_TELEMETRY_INTERVAL", time.Second),
		SubscriberBuffer:  getEnvInt("BATTLE_SUBSCRIBER_BUFFER", 64),

		Platform:        strings.ToLower(getEnv("BATTLE_PLATFORM", "")),
		ForceSnapdragon: getEnvBool("SNAPDRAGON_NPU"),
		ForceCPU:        getEnvBool("FORCE_CPU_MODE"),

		AssetsDir:         getEnv("BATTLE_ASSETS_DIR", filepath.Join("static", "emergency_assets")),
		GeneratedDir:      getEnv("BATTLE_GENERATED_DIR", filepath.Join("static", "generated")),
		FallbackTimeScale: getEnvFloat("BATTLE_FALLBACK_TIME_SCALE", 1.0),
	}
}

// fileConfig mirrors Config for YAML decoding. Durations and the log level
// are strings in the file.
type fileConfig struct {
	Config            `yaml:",inline"`
	LogLevel          string `yaml:"log_level"`
	OrphanTimeout     string `yaml:"orphan_timeout"`
	ReapInterval      string `yaml:"reap_interval"`
	MaxGenerationTime string `yaml:"max_generation_time"`
	HealthInterval    string `yaml:"health_interval"`
	TelemetryInterval string `yaml:"telemetry_interval"`
}

// LoadFile overlays values from a YAML file onto base. Keys absent from the
// file keep their base values.
func LoadFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: base}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return base, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := fc.Config
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}

	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.OrphanTimeout, &cfg.OrphanTimeout, "orphan_timeout"},
		{fc.ReapInterval, &cfg.ReapInterval, "reap_interval"},
		{fc.MaxGenerationTime, &cfg.MaxGenerationTime, "max_generation_time"},
		{fc.HealthInterval, &cfg.HealthInterval, "health_interval"},
		{fc.TelemetryInterval, &cfg.TelemetryInterval, "telemetry_interval"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return base, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	cfg.Platform = strings.ToLower(cfg.Platform)
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string) bool {
	return getEnvBoolDefault(key, false)
}

func getEnvBoolDefault(key string, defaultVal bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return defaultVal
	}
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultVal
}

// getEnvThreshold is getEnvFloat that also accepts zero, which turns the
// matching minimum-free check off.
func getEnvThreshold(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, string(os.PathListSeparator)) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
