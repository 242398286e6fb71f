package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Engine rules
	GracePeriodDays   int
	LatePenaltyPct    int
	AdvanceCapPct     int
	AdvanceScoreFloor int
	RetryAttempts     int
	RetryBackoffBase  time.Duration

	// Backstop
	BackstopBalanceCents int64

	// Worker
	SweepInterval time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tanda.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "tanda"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "tanda_notifications"),

		GracePeriodDays:   getEnvInt("GRACE_PERIOD_DAYS", 3),
		LatePenaltyPct:    getEnvInt("LATE_PENALTY_PCT", 10),
		AdvanceCapPct:     getEnvInt("ADVANCE_CAP_PCT", 80),
		AdvanceScoreFloor: getEnvInt("ADVANCE_SCORE_FLOOR", 40),
		RetryAttempts:     getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", time.Second),

		BackstopBalanceCents: int64(getEnvInt("BACKSTOP_BALANCE_CENTS", 0)),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GracePeriodDays < 0 || c.GracePeriodDays > 30 {
		errors = append(errors, fmt.Sprintf("invalid grace period %d days: must be between 0 and 30", c.GracePeriodDays))
	}
	if c.LatePenaltyPct < 0 || c.LatePenaltyPct > 100 {
		errors = append(errors, fmt.Sprintf("invalid late penalty %d%%: must be between 0 and 100", c.LatePenaltyPct))
	}
	if c.AdvanceCapPct < 1 || c.AdvanceCapPct > 100 {
		errors = append(errors, fmt.Sprintf("invalid advance cap %d%%: must be between 1 and 100", c.AdvanceCapPct))
	}
	if c.AdvanceScoreFloor < 0 || c.AdvanceScoreFloor > 100 {
		errors = append(errors, fmt.Sprintf("invalid advance score floor %d: must be between 0 and 100", c.AdvanceScoreFloor))
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid retry attempts %d: must be between 1 and 10", c.RetryAttempts))
	}
	if c.BackstopBalanceCents < 0 {
		errors = append(errors, "backstop balance cannot be negative")
	}

	if c.SweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 second", c.SweepInterval))
	} else if c.SweepInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at most 24 hours", c.SweepInterval))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
