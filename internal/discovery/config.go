package discovery

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	devices "adms-gateway/internal/devices/domain"
)

// Config defines subnet discovery configuration.
type Config struct {
	Subnets      []string          `yaml:"subnets"`
	Port         int               `yaml:"port"`
	ProbeTimeout time.Duration     `yaml:"probe_timeout"`
	Concurrency  int               `yaml:"concurrency"`
	Interval     time.Duration     `yaml:"interval"`
	Static       map[string]string `yaml:"static"`
}

// LoadConfig loads config from yaml or env. The yaml file named by
// DISCOVERY_CONFIG overrides env values field by field.
func LoadConfig() (Config, error) {
	cfg := Config{
		Subnets:      splitCSV(os.Getenv("DISCOVERY_SUBNETS")),
		Port:         getenvIntDefault("DISCOVERY_PORT", devices.DefaultPort),
		ProbeTimeout: getenvDurationDefault("DISCOVERY_PROBE_TIMEOUT", 2*time.Second),
		Concurrency:  getenvIntDefault("DISCOVERY_CONCURRENCY", 32),
		Interval:     getenvDurationDefault("DISCOVERY_INTERVAL", 0),
	}

	if path := os.Getenv("DISCOVERY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Port <= 0 {
		cfg.Port = devices.DefaultPort
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 32
	}
	return cfg, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
