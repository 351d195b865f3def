package tester

import (
	"os"
	"path/filepath"

	"github.com/emrgen/panelcraft/internal/model"
	redis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testPath = "../../.test/"
)

// Setup opens a fresh migrated sqlite database named after the calling
// package. Each package gets its own file so packages can run in parallel.
func Setup(name string) *gorm.DB {
	_ = os.Setenv("ENV", "test")

	err := os.MkdirAll(filepath.Join(testPath, "db"), os.ModePerm)
	if err != nil {
		panic(err)
	}

	path := filepath.Join(testPath, "db", name+".db")
	RemoveDBFile(path)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	err = model.Migrate(db)
	if err != nil {
		panic(err)
	}

	return db
}

func RemoveDBFile(path string) {
	err := os.RemoveAll(path)
	if err != nil {
		panic(err)
	}
}

// Redis returns a client for REDIS_ADDR, or nil when no server is configured.
func Redis() *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password set
		DB:       0,  // Use default DB
		Protocol: 2,  // Connection protocol
	})
}
