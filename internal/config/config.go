// internal/config/config.go
package config

import (
	"os"
	"strconv"
)

// Range is an inclusive [Lo, Hi] randomization range for rewards.
type Range struct {
	Lo int
	Hi int
}

// Settings holds every tunable the engine reads. Values come from the
// environment (a .env file is loaded by cmd/server before Load runs).
type Settings struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int

	TurnSeconds int // turn deadline length
	UnoSeconds  int // callout window length

	PlusTwoCards     int // cards delivered per +2
	PlusFourCards    int // cards delivered per +4 (scaled by dump stack)
	TurnPenaltyCards int // penalty for missing the turn deadline
	UnoPenaltyCards  int // penalty for missing the callout window
	MaxHand          int // hand size that triggers a kick when exceeded

	RewardCoins [4]Range // 1st, 2nd, 3rd, everyone else
	RewardXP    [4]Range
}

// Load reads settings from the environment, falling back to the defaults the
// game shipped with.
func Load() Settings {
	return Settings{
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/unobot"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),

		TurnSeconds: getEnvInt("TURN_SECONDS", 30),
		UnoSeconds:  getEnvInt("UNO_SECONDS", 10),

		PlusTwoCards:     getEnvInt("PLUS2_CARDS", 2),
		PlusFourCards:    getEnvInt("PLUS4_CARDS", 4),
		TurnPenaltyCards: getEnvInt("TURN_PENALTY_CARDS", 2),
		UnoPenaltyCards:  getEnvInt("UNO_PENALTY_CARDS", 2),
		MaxHand:          getEnvInt("MAX_HAND", 25),

		RewardCoins: [4]Range{{80, 120}, {50, 80}, {30, 50}, {10, 20}},
		RewardXP:    [4]Range{{60, 100}, {40, 70}, {25, 45}, {5, 15}},
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
