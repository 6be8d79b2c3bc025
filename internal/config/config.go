package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL   string
	HTTPPort      string
	LogLevel      string
	JWTSecret     string
	GeminiAPIKey  string
	MessageQuota  int // per-user message limit for the managed generator, 0 = unlimited
	SummaryEveryN int // regenerate the rolling chat summary every N user messages
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		DatabaseURL:   getEnv("DATABASE_URL", "companion.db"),
		HTTPPort:      getEnv("HTTP_PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		MessageQuota:  getEnvAsInt("MESSAGE_QUOTA", 0),
		SummaryEveryN: getEnvAsInt("SUMMARY_EVERY_N", 20),
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Println("GEMINI_API_KEY not set; managed generation, summaries and semantic search are disabled")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
