package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	defaultDriver      = "sqlite"
	defaultDSN         = ".panelcraft/panelcraft.db"
	defaultRelayPort   = "4030"
	defaultSaveDelay   = 1000
	defaultTypingQuiet = 1500
)

// Config holds runtime configuration loaded from the environment and an
// optional .env file.
type Config struct {
	DBDriver    string
	DBDSN       string
	RemoteURL   string
	Compression string
	SaveDelay   time.Duration
	TypingQuiet time.Duration
	RelayPort   string
	GeminiKey   string
	GeminiModel string
	UserName    string
}

func LoadConfig() *Config {
	return &Config{
		DBDriver:    getEnv("DB_DRIVER", defaultDriver),
		DBDSN:       getEnv("DB_DSN", defaultDSN),
		RemoteURL:   os.Getenv("REMOTE_URL"),
		Compression: os.Getenv("COMPRESSION"),
		SaveDelay:   getMillis("SAVE_DEBOUNCE_MS", defaultSaveDelay),
		TypingQuiet: getMillis("TYPING_QUIET_MS", defaultTypingQuiet),
		RelayPort:   getEnv("RELAY_PORT", defaultRelayPort),
		GeminiKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel: os.Getenv("GEMINI_MODEL"),
		UserName:    os.Getenv("PANELCRAFT_USER"),
	}
}

// Collaborative reports whether a remote store is configured. Without one the
// editor runs offline only.
func (c *Config) Collaborative() bool {
	return c.RemoteURL != ""
}

// GetDb opens the local database. It panics on failure, as there is nothing
// to edit without local persistence.
func GetDb(cfg *Config) *gorm.DB {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "postgres":
		dialector = postgres.Open(cfg.DBDSN)
	case "sqlite":
		if dir := filepath.Dir(cfg.DBDSN); dir != "." {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				panic(err)
			}
		}
		dialector = sqlite.Open(cfg.DBDSN)
	default:
		logrus.Fatalf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		panic(err)
	}

	return db
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getMillis(key string, fallback int) time.Duration {
	ms := fallback
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			ms = v
		} else {
			logrus.Warnf("config: ignoring invalid %s=%q", key, raw)
		}
	}

	return time.Duration(ms) * time.Millisecond
}
