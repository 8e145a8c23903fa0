package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	Env                   string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CompetitorCacheTTL    time.Duration
	KafkaBrokers          []string
	KafkaPriceTopic       string
	AuthSecret            string
	AccessTokenTTLMinutes int
	AdminPassword         string
	SellerID              string
	OperatingHoursStart   int
	OperatingHoursEnd     int
	Timezone              string
	PollInterval          time.Duration
	PollBatchSize         int
	BulkBatchSize         int
	PollStaleWindow       time.Duration
	Throttle              time.Duration
	ChannelTimeout        time.Duration
	ChannelMaxAttempts    int
	PVPMWarningTolerance  float64
	SchedulerEnabled      bool
	CorrectionInterval    time.Duration
	PVPMRefreshInterval   time.Duration
	ReaperInterval        time.Duration
}

// Load reads the process environment. A .env file in the working directory is
// loaded first when present; real environment variables win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Env:                   getEnv("ENV", "production"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		CompetitorCacheTTL:    time.Duration(getInt("COMPETITOR_CACHE_TTL_SECONDS", 300, 1)) * time.Second,
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaPriceTopic:       getEnv("KAFKA_PRICE_TOPIC", "pricing.events"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		AdminPassword:         strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		SellerID:              strings.TrimSpace(os.Getenv("SELLER_ID")),
		OperatingHoursStart:   getInt("OPERATING_HOURS_START", 8, 0),
		OperatingHoursEnd:     getInt("OPERATING_HOURS_END", 22, 0),
		Timezone:              getEnv("PRICING_TIMEZONE", "UTC"),
		PollInterval:          time.Duration(getInt("POLL_INTERVAL_MINUTES", 30, 1)) * time.Minute,
		PollBatchSize:         getInt("POLL_BATCH_SIZE", 20, 1),
		BulkBatchSize:         getInt("BULK_BATCH_SIZE", 50, 1),
		PollStaleWindow:       time.Duration(getInt("POLL_STALE_MINUTES", 30, 1)) * time.Minute,
		Throttle:              time.Duration(getInt("THROTTLE_MS", 500, 0)) * time.Millisecond,
		ChannelTimeout:        time.Duration(getInt("CHANNEL_TIMEOUT_SECONDS", 15, 1)) * time.Second,
		ChannelMaxAttempts:    getInt("CHANNEL_MAX_ATTEMPTS", 3, 1),
		PVPMWarningTolerance:  getFloat("PVPM_WARNING_TOLERANCE", 0.05),
		SchedulerEnabled:      getBool("SCHEDULER_ENABLED", true),
		CorrectionInterval:    time.Duration(getInt("CORRECTION_INTERVAL_MINUTES", 120, 1)) * time.Minute,
		PVPMRefreshInterval:   time.Duration(getInt("PVPM_REFRESH_INTERVAL_MINUTES", 360, 1)) * time.Minute,
		ReaperInterval:        time.Duration(getInt("REAPER_INTERVAL_MINUTES", 60, 1)) * time.Minute,
	}
	if cfg.OperatingHoursStart > 23 {
		cfg.OperatingHoursStart = 8
	}
	if cfg.OperatingHoursEnd > 23 {
		cfg.OperatingHoursEnd = 22
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to UTC for unknown names.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getInt(key string, fallback int, min int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < min {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(fallback)))
	if err != nil {
		return fallback
	}
	return v
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
