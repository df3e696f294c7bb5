package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Port            string
	DatabaseURL     string
	OpenAIAPIKey    string
	DiscordBotToken string

	// Persona
	PersonaName  string
	PersonaAlias string

	// Models
	ModelID      string
	ChaosModelID string
	ChaosChance  float64

	// Conversation
	ConversationLimit int

	// Embedding pipeline
	DataDir            string
	CheckpointInterval int

	LogLevel    string
	LogFormat   string
	Environment string
}

func Load() *Config {
	return &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		DiscordBotToken:    os.Getenv("DISCORD_BOT_TOKEN"),
		PersonaName:        getEnvOrDefault("PERSONA_NAME", "Matthew Elias"),
		PersonaAlias:       getEnvOrDefault("PERSONA_ALIAS", "Matt"),
		ModelID:            getEnvOrDefault("OPENAI_MODEL_ID", "gpt-4o-mini"),
		ChaosModelID:       os.Getenv("OPENAI_MODEL_CHAOS_ID"),
		ChaosChance:        getEnvFloat("CHAOS_CHANCE", 0.0),
		ConversationLimit:  getEnvInt("CONVERSATION_LIMIT", 5),
		DataDir:            getEnvOrDefault("DATA_DIR", "processing"),
		CheckpointInterval: getEnvInt("CHECKPOINT_INTERVAL", 50),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:        getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	if c.ChaosChance < 0 || c.ChaosChance > 1 {
		errs = append(errs, "CHAOS_CHANCE must be between 0 and 1")
	}

	if c.ChaosChance > 0 && c.ChaosModelID == "" {
		errs = append(errs, "OPENAI_MODEL_CHAOS_ID is required when CHAOS_CHANCE > 0")
	}

	if c.ConversationLimit < 1 {
		errs = append(errs, "CONVERSATION_LIMIT must be a positive integer")
	}

	if c.CheckpointInterval < 1 {
		errs = append(errs, "CHECKPOINT_INTERVAL must be a positive integer")
	}

	if c.PersonaName == "" || c.PersonaAlias == "" {
		errs = append(errs, "PERSONA_NAME and PERSONA_ALIAS must not be empty")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errs = append(errs, "LOG_FORMAT must be one of: text, json")
	}

	if len(errs) > 0 {
		return errors.New(errs[0])
	}

	return nil
}

// ValidateDiscord covers the extra credentials the bot command needs.
func (c *Config) ValidateDiscord() error {
	if c.DiscordBotToken == "" {
		return errors.New("DISCORD_BOT_TOKEN is required")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// File locations inside DataDir shared by the extractor, the pipeline and the bot.

func (c *Config) VectorRecordsPath() string {
	return filepath.Join(c.DataDir, "vector.jsonl")
}

func (c *Config) FineTunePath() string {
	return filepath.Join(c.DataDir, "finetune.jsonl")
}

func (c *Config) IndexPath() string {
	return filepath.Join(c.DataDir, "index.bin")
}

func (c *Config) TextsPath() string {
	return filepath.Join(c.DataDir, "texts.gob")
}

func (c *Config) CheckpointPath() string {
	return filepath.Join(c.DataDir, "processed_count.txt")
}

func (c *Config) BindingsPath() string {
	return filepath.Join(c.DataDir, "discord_channel_config.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s=%q, using %g\n", key, value, defaultValue)
		return defaultValue
	}
	return f
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
