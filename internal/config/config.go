package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

var cfg struct {
	once sync.Once
}

// Load reads .env and populates exported vars. Safe to call multiple times;
// only the first call has effect.
func Load() {
	cfg.once.Do(func() {
		godotenv.Load(".env")

		FMPAPIKey = get("FMP_API_KEY")
		FMPFreeTier = getBool("FMP_FREE_TIER", "false")
		AdminAPIKey = get("ADMIN_API_KEY")
		TrustProxy = getBool("TRUST_PROXY", "false")
		Port = getOr("PORT", "8000")
		LogLevel = getOr("LOG_LEVEL", "info")
		CoreWasmPath = get("VIBES_CORE_WASM")
		DataDir = getOr("VIBES_DATA_DIR", "data")
		TraceStdout = getBool("VIBES_TRACE", "false")

		AnomalyStdThreshold = getFloat("ANOMALY_STD_THRESHOLD", AnomalyStdThreshold)
		BaselineDays = getInt("BASELINE_DAYS", BaselineDays)
		CurrentWindowDays = getInt("CURRENT_WINDOW_DAYS", CurrentWindowDays)
		MinBaselinePoints = getInt("MIN_BASELINE_POINTS", MinBaselinePoints)
	})
}

func get(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func getOr(key, def string) string {
	if v := get(key); v != "" {
		return v
	}
	return def
}

func getBool(key, defaultVal string) bool {
	v := strings.ToLower(get(key))
	if v == "" {
		v = defaultVal
	}
	return v == "1" || v == "true" || v == "yes"
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(get(key))
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(get(key), 64)
	if err != nil {
		return def
	}
	return f
}

// Get reads an env var. Ensures .env is loaded first.
func Get(key string) string {
	Load()
	return get(key)
}

// GetBool reads a boolean env var. Ensures .env is loaded first.
func GetBool(key, defaultVal string) bool {
	Load()
	return getBool(key, defaultVal)
}

// CachePath is the sqlite file holding cached scan results.
func CachePath() string {
	Load()
	return filepath.Join(DataDir, "vibes_cache.db")
}

// Exported config values. Populated by Load().
var (
	FMPAPIKey   string
	FMPFreeTier bool
	AdminAPIKey string
	// TrustProxy lets the API key rate limits on X-Forwarded-For.
	TrustProxy bool

	Port         string
	LogLevel     string
	CoreWasmPath string
	DataDir      string
	TraceStdout  bool

	AnomalyStdThreshold = 2.0
	BaselineDays        = 365
	CurrentWindowDays   = 30
	MinBaselinePoints   = 5
)
