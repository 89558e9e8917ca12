// Package config loads runtime tunables for the arm client from environment
// variables, applying sane defaults and returning descriptive errors for
// invalid overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultServoAddr is the default TCP address of the remote servo controller.
	DefaultServoAddr = "127.0.0.1:7744"
	// DefaultSubmitTimeout is the recommended per-submit timeout (spec §5).
	DefaultSubmitTimeout = time.Second
	// DefaultStepInterval is the motion player's fixed sampling step Δt.
	DefaultStepInterval = 20 * time.Millisecond
	// DefaultIKThreshold is the heuristic solver's default convergence threshold ε (meters).
	DefaultIKThreshold = 0.01
	// DefaultIKMaxIterations is the heuristic solver's default iteration cap N.
	DefaultIKMaxIterations = 200

	// DefaultLogLevel controls verbosity for client logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written; "-" means stderr.
	DefaultLogPath = "-"

	// DefaultTelemetryDir is where the trajectory recorder writes diagnostics, if enabled.
	DefaultTelemetryDir = ""

	// DefaultHostBridgeAddr is the default bind address for the thin host-facing adaptation layer.
	DefaultHostBridgeAddr = "127.0.0.1:7745"
)

// Config captures all runtime tunables for the arm client.
type Config struct {
	ServoAddr        string
	SubmitTimeout    time.Duration
	StepInterval     time.Duration
	IKThreshold      float64
	IKMaxIterations  int
	Logging          LoggingConfig
	TelemetryDir     string
	HostBridgeAddr   string
	HostBridgeEnable bool
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level string
	Path  string
}

// Load reads the client configuration from environment variables, applying
// sane defaults and returning descriptive errors for invalid overrides.
func Load() (*Config, error) {
	cfg := &Config{
		ServoAddr:       getString("ARM_SERVO_ADDR", DefaultServoAddr),
		SubmitTimeout:   DefaultSubmitTimeout,
		StepInterval:    DefaultStepInterval,
		IKThreshold:     DefaultIKThreshold,
		IKMaxIterations: DefaultIKMaxIterations,
		Logging: LoggingConfig{
			Level: strings.TrimSpace(getString("ARM_LOG_LEVEL", DefaultLogLevel)),
			Path:  strings.TrimSpace(getString("ARM_LOG_PATH", DefaultLogPath)),
		},
		TelemetryDir:     strings.TrimSpace(os.Getenv("ARM_TELEMETRY_DIR")),
		HostBridgeAddr:   getString("ARM_HOSTBRIDGE_ADDR", DefaultHostBridgeAddr),
		HostBridgeEnable: false,
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("ARM_SUBMIT_TIMEOUT")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARM_SUBMIT_TIMEOUT must be a positive duration, got %q", raw))
		} else {
			cfg.SubmitTimeout = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARM_STEP_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration <= 0 {
			problems = append(problems, fmt.Sprintf("ARM_STEP_INTERVAL must be a positive duration, got %q", raw))
		} else {
			cfg.StepInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARM_IK_THRESHOLD")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARM_IK_THRESHOLD must be a positive float, got %q", raw))
		} else {
			cfg.IKThreshold = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARM_IK_MAX_ITERATIONS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("ARM_IK_MAX_ITERATIONS must be a positive integer, got %q", raw))
		} else {
			cfg.IKMaxIterations = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("ARM_HOSTBRIDGE_ENABLE")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("ARM_HOSTBRIDGE_ENABLE must be a boolean value, got %q", raw))
		} else {
			cfg.HostBridgeEnable = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
