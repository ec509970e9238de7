package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port        string
	DatabaseURL string

	SessionStart            string
	SessionEnd              string
	SlotMinutes             int
	MicroBufferMinutes      int
	BreakEveryN             int
	BreakMinutes            int
	EmergencyReserveMinutes int

	UpcomingLimit int

	RateLimitPerMinute       int
	RateLimitBurst           int
	ClinicRateLimitPerMinute int
	ClinicRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		SessionStart:             readString("SESSION_START", "17:00"),
		SessionEnd:               readString("SESSION_END", "20:00"),
		SlotMinutes:              readInt("SLOT_MINUTES", 9),
		MicroBufferMinutes:       readInt("MICRO_BUFFER_MINUTES", 2),
		BreakEveryN:              readInt("BREAK_EVERY_N", 6),
		BreakMinutes:             readInt("BREAK_MINUTES", 10),
		EmergencyReserveMinutes:  readInt("EMERGENCY_RESERVE_MINUTES", 20),
		UpcomingLimit:            readInt("UPCOMING_LIMIT", 10),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		ClinicRateLimitPerMinute: readInt("CLINIC_RATE_LIMIT_PER_MIN", 600),
		ClinicRateLimitBurst:     readInt("CLINIC_RATE_LIMIT_BURST", 120),
	}
}

func readString(key, fallback string) string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	return raw
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
