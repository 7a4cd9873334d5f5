package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	JwtSecret string
	Env       string
	Version   string

	// MaxRequestSize bounds request bodies, as a datasize string such as "1MB".
	MaxRequestSize string
	// TargetArch is the guest architecture configurations are validated for.
	// Empty means the host architecture.
	TargetArch string
	// MaxPCISegments overrides the platform PCI segment limit.
	MaxPCISegments int
	// HypervisorType selects the VMM driver for VMs created with an API socket.
	HypervisorType string
	// VMLogLines is how many log lines are kept per VM.
	VMLogLines int

	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool
	// OtelTraceSampleRatio is the fraction of root spans exported.
	OtelTraceSampleRatio float64
	OtelMetricInterval   time.Duration
}

// Load loads configuration from environment variables
// Automatically loads .env file if present
func Load() *Config {
	// Try to load .env file (fail silently if not present)
	_ = godotenv.Load()

	hostname, _ := os.Hostname()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		JwtSecret:      getEnv("JWT_SECRET", ""),
		Env:            getEnv("ENV", "unset"),
		Version:        getEnv("VERSION", "dev"),
		MaxRequestSize: getEnv("MAX_REQUEST_SIZE", "1MB"),
		TargetArch:     getEnv("TARGET_ARCH", ""),
		MaxPCISegments: getEnvInt("MAX_PCI_SEGMENTS", 16),
		HypervisorType: getEnv("HYPERVISOR_TYPE", "cloud-hypervisor"),
		VMLogLines:     getEnvInt("VM_LOG_LINES", 1000),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "vmconf"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", hostname),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
		OtelTraceSampleRatio:  getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 1),
		OtelMetricInterval:    getEnvDuration("OTEL_METRIC_INTERVAL", 0),
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
