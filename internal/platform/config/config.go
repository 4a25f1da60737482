package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "residuechain/pkg/platform/strings"
)

// Config captures process-level configuration so main stays lean.
type Config struct {
	Addr string

	PostgresDSN string
	RedisURL    string

	KafkaBrokers      []string
	NotificationTopic string

	LedgerURL     string
	LedgerTimeout time.Duration

	ReferenceDataPath string

	// Sweep cadences. Operational tuning knobs, not correctness constraints.
	SafeDateSweepEvery time.Duration
	UnsafeSweepEvery   time.Duration
	OverdueSweepEvery  time.Duration

	// Overdue reminders fire once the safe date is this many days in the past.
	OverdueAfterDays int

	// AuthorityUsers lists the user IDs that receive regulatory alerts.
	AuthorityUsers []string
}

// FromEnv builds a Config from environment variables with development
// defaults. An empty PostgresDSN or RedisURL selects the in-memory
// implementations.
func FromEnv() Config {
	return Config{
		Addr:               envString("RESIDUECHAIN_ADDR", ":8080"),
		PostgresDSN:        os.Getenv("RESIDUECHAIN_POSTGRES_DSN"),
		RedisURL:           os.Getenv("RESIDUECHAIN_REDIS_URL"),
		KafkaBrokers:       envList("RESIDUECHAIN_KAFKA_BROKERS"),
		NotificationTopic:  envString("RESIDUECHAIN_NOTIFICATION_TOPIC", "residuechain.notifications"),
		LedgerURL:          os.Getenv("RESIDUECHAIN_LEDGER_URL"),
		LedgerTimeout:      envDuration("RESIDUECHAIN_LEDGER_TIMEOUT", 10*time.Second),
		ReferenceDataPath:  envString("RESIDUECHAIN_REFERENCE_DATA", "reference_data.json"),
		SafeDateSweepEvery: envDuration("RESIDUECHAIN_SAFE_DATE_SWEEP", 6*time.Hour),
		UnsafeSweepEvery:   envDuration("RESIDUECHAIN_UNSAFE_SWEEP", 2*time.Hour),
		OverdueSweepEvery:  envDuration("RESIDUECHAIN_OVERDUE_SWEEP", 24*time.Hour),
		OverdueAfterDays:   envInt("RESIDUECHAIN_OVERDUE_AFTER_DAYS", 2),
		AuthorityUsers:     envList("RESIDUECHAIN_AUTHORITY_USERS"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
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

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := pstrings.DedupeAndTrim(strings.Split(v, ","))
	if len(out) == 0 {
		return nil
	}
	return out
}
