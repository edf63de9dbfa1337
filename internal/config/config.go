package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	DBDSN           string
	JWTSecret       string
	LogLevel        string
	WebSocketOrigin string

	MT5BaseURL   string
	MT5APIKey    string
	MT5Timeout   time.Duration
	MT5RateLimit float64

	SyncInterval           time.Duration
	SyncInitialLookback    time.Duration
	SyncRegularLookback    time.Duration
	SyncSkipInitial        bool
	SyncDistributedLock    bool
	AttributionConcurrency int
	ReconcileInterval      time.Duration
	ReconcileAfter         time.Duration
	RetentionUnprocessed   time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; real env vars win over it.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var missing []string
	c.HTTPAddr = os.Getenv("HTTP_ADDR")
	if c.HTTPAddr == "" {
		missing = append(missing, "HTTP_ADDR")
	}
	c.DBDSN = os.Getenv("DB_DSN")
	if c.DBDSN == "" {
		missing = append(missing, "DB_DSN")
	}
	c.JWTSecret = os.Getenv("JWT_SECRET")
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.WebSocketOrigin = os.Getenv("WS_ORIGIN")
	if c.WebSocketOrigin == "" {
		c.WebSocketOrigin = "*"
	}

	c.MT5BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("MT5_BASE_URL")), "/")
	c.MT5APIKey = os.Getenv("MT5_API_KEY")

	var err error
	if c.MT5Timeout, err = durationEnv("MT5_TIMEOUT", 30*time.Second); err != nil {
		return c, err
	}
	if c.MT5RateLimit, err = floatEnv("MT5_RATE_LIMIT", 5); err != nil {
		return c, err
	}
	if c.SyncInterval, err = durationEnv("SYNC_INTERVAL", time.Minute); err != nil {
		return c, err
	}
	if c.SyncInitialLookback, err = durationEnv("SYNC_INITIAL_LOOKBACK", 365*24*time.Hour); err != nil {
		return c, err
	}
	if c.SyncRegularLookback, err = durationEnv("SYNC_REGULAR_LOOKBACK", 24*time.Hour); err != nil {
		return c, err
	}
	if c.SyncSkipInitial, err = boolEnv("SYNC_SKIP_INITIAL", false); err != nil {
		return c, err
	}
	if c.SyncDistributedLock, err = boolEnv("SYNC_DISTRIBUTED_LOCK", false); err != nil {
		return c, err
	}
	if c.AttributionConcurrency, err = intEnv("ATTRIBUTION_CONCURRENCY", 4); err != nil {
		return c, err
	}
	if c.AttributionConcurrency <= 0 {
		return c, errors.New("ATTRIBUTION_CONCURRENCY must be > 0")
	}
	if c.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", 10*time.Minute); err != nil {
		return c, err
	}
	if c.ReconcileAfter, err = durationEnv("RECONCILE_AFTER", 5*time.Minute); err != nil {
		return c, err
	}
	retentionDays, err := intEnv("RETENTION_UNPROCESSED_DAYS", 0)
	if err != nil {
		return c, err
	}
	if retentionDays < 0 {
		return c, errors.New("RETENTION_UNPROCESSED_DAYS must be >= 0")
	}
	c.RetentionUnprocessed = time.Duration(retentionDays) * 24 * time.Hour

	if brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	c.KafkaTopic = os.Getenv("KAFKA_TOPIC")
	if c.KafkaTopic == "" {
		c.KafkaTopic = "ib.sync.events"
	}

	if len(missing) > 0 {
		return c, errors.New("missing required env: " + strings.Join(missing, ","))
	}
	return c, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
