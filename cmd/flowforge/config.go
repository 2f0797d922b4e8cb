package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
)

// config holds the runtime configuration for the flowforge process,
// assembled from flags and environment variables the way the teacher's
// mcp-server entrypoint does.
type config struct {
	HTTPAddr  string
	StorePath string // empty means run the in-memory store
	LogLevel  string
	EnvFile   string
}

func defaultConfig() config {
	return config{
		HTTPAddr: ":8080",
		LogLevel: "info",
	}
}

func parseFlags() *config {
	cfg := defaultConfig()

	httpAddr := flag.String("http-addr", cfg.HTTPAddr, "HTTP listen address")
	storePath := flag.String("store-path", cfg.StorePath, "BoltDB file path (empty uses an in-memory store)")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	envFile := flag.String("env-file", "", "Path to a .env file to load")
	flag.Parse()

	cfg.HTTPAddr = *httpAddr
	cfg.StorePath = *storePath
	cfg.LogLevel = *logLevel
	cfg.EnvFile = *envFile

	loadEnvFile(cfg.EnvFile)
	applyEnvOverrides(&cfg)
	return &cfg
}

func loadEnvFile(path string) {
	if path != "" {
		_ = godotenv.Load(path)
		return
	}
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

func applyEnvOverrides(cfg *config) {
	if v := os.Getenv("FLOWFORGE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FLOWFORGE_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
