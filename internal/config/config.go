package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide settings read once at startup.
type Config struct {
	Port          int
	DataDir       string
	EncryptionKey string
	EngineTimeout time.Duration
	LogLevel      string
	LogFormat     string // "console" or "json"
}

// Load reads configuration from the environment, consulting a .env file if
// present. A missing encryption key is generated and persisted back to .env
// so credentials stay decryptable across restarts.
func Load() (*Config, error) {
	_ = godotenv.Load()

	key := os.Getenv("DBHUB_ENCRYPTION_KEY")
	if len(key) < 32 {
		newKey, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate encryption key: %w", err)
		}
		if err := saveKeyToEnv(newKey); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save generated key to .env: %v\n", err)
		}
		key = newKey
	}

	cfg := &Config{
		Port:          envInt("PORT", 8080),
		DataDir:       envString("DBHUB_DATA_DIR", "data"),
		EncryptionKey: key,
		EngineTimeout: time.Duration(envInt("ENGINE_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:      envString("LOG_LEVEL", "info"),
		LogFormat:     envString("LOG_FORMAT", "console"),
	}
	return cfg, nil
}

func envString(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func generateRandomKey(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func saveKeyToEnv(key string) error {
	const filename = ".env"
	line := fmt.Sprintf("DBHUB_ENCRYPTION_KEY=%s\n", key)

	content, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return os.WriteFile(filename, []byte(line), 0600)
	} else if err != nil {
		return err
	}

	if len(content) > 0 && content[len(content)-1] != '\n' {
		content = append(content, '\n')
	}
	content = append(content, line...)
	return os.WriteFile(filename, content, 0600)
}
