package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ServerConfig holds the upload backend settings, read from the
// environment (optionally seeded from a .env file).
type ServerConfig struct {
	Port             int
	PinataJWT        string
	PinataAPIURL     string
	PinataGatewayURL string
	MaxUploadMB      int
}

// LoadServerConfig reads the backend settings. A missing env file is not
// an error; variables already set in the environment win.
func LoadServerConfig(envFiles ...string) ServerConfig {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
	return ServerConfig{
		Port:             getEnvInt("PORT", 8000),
		PinataJWT:        getEnv("PINATA_JWT", ""),
		PinataAPIURL:     getEnv("PINATA_API_URL", "https://api.pinata.cloud"),
		PinataGatewayURL: getEnv("PINATA_GATEWAY_URL", "https://gateway.pinata.cloud/ipfs"),
		MaxUploadMB:      getEnvInt("MAX_UPLOAD_MB", 512),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
