// FILE: env.go
// Package config – environment helpers and .env loading.
//
// LoadDotEnv replaces the teacher's hand-rolled loadBotEnv() parser with
// github.com/joho/godotenv (grounded on ChoSanghyuk-blackholedex and
// yohannesjx-sniperterminal go.mod requires): same "load .env into the
// process environment, never override what's already set" behavior, a real
// dependency instead of teacher's bespoke scanner. The typed
// getEnv/getEnvFloat/getEnvBool/getEnvInt accessor helpers below are kept
// verbatim in idiom from the teacher's env.go — they are already the
// teacher's own reusable, dependency-free pattern, not something to replace.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env from the given paths (if present), never overriding
// variables already set in the process environment. Missing files are
// silently skipped, matching the teacher's best-effort loadBotEnv().
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func GetEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func GetEnvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func GetEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func GetEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func GetEnvInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}
