package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
}

type FetcherConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	RateLimit        float64       `yaml:"rate_limit"`
	UserAgent        string        `yaml:"user_agent"`
	MaxContentTokens int           `yaml:"max_content_tokens"`
	Extractor        string        `yaml:"extractor"`
}

type RAGConfig struct {
	MaxTokens   int           `yaml:"max_tokens"`
	ChunkSize   int           `yaml:"chunk_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	Encoding    string        `yaml:"encoding"`
}

type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	DatabaseURL   string        `yaml:"database_url"`
	TableName     string        `yaml:"table_name"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	TTL           time.Duration `yaml:"ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	LLM      LLMConfig     `yaml:"llm"`
	Fetcher  FetcherConfig `yaml:"fetcher"`
	RAG      RAGConfig     `yaml:"rag"`
	Store    StoreConfig   `yaml:"store"`
	Server   ServerConfig  `yaml:"server"`
	LogLevel string        `yaml:"log_level"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/webrag/config.yaml"),
			"/etc/webrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "mistral"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.7
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Fetcher.Timeout == 0 {
		config.Fetcher.Timeout = 30 * time.Second
	}
	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 10
	}
	if config.Fetcher.MaxContentTokens == 0 {
		config.Fetcher.MaxContentTokens = 4000
	}
	if config.Fetcher.Extractor == "" {
		config.Fetcher.Extractor = "dom"
	}

	if config.RAG.MaxTokens == 0 {
		config.RAG.MaxTokens = 2000
	}
	if config.RAG.ChunkSize == 0 {
		config.RAG.ChunkSize = 1000
	}
	if config.RAG.Concurrency == 0 {
		config.RAG.Concurrency = 8
	}
	if config.RAG.Encoding == "" {
		config.RAG.Encoding = "cl100k_base"
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "web_content"
	}
	if config.Store.RedisPrefix == "" {
		config.Store.RedisPrefix = "webrag:content"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DatabaseURL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Store.RedisAddr = addr
	}
	if backend := os.Getenv("WEBRAG_STORE"); backend != "" {
		config.Store.Backend = backend
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			config.Server.Addr = ":" + port
		}
	}
	if level := os.Getenv("WEBRAG_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
}
