package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all flowcanvas daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath     string `json:"db_path"`
	LogLevel   string `json:"log_level"`
	Autosave   string `json:"autosave"` // cron spec; empty disables autosave
	Panel      bool   `json:"panel"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4180",
		DBPath:     filepath.Join(flowcanvasDir(), "flowcanvas.db"),
		LogLevel:   "info",
		Autosave:   "* * * * *",
	}
}

func flowcanvasDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowcanvas"
	}
	return filepath.Join(home, ".flowcanvas")
}

func settingsPath() string {
	return filepath.Join(flowcanvasDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWCANVAS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWCANVAS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWCANVAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWCANVAS_AUTOSAVE"); v != "" {
		cfg.Autosave = v
	}
	if v := os.Getenv("FLOWCANVAS_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}

	return cfg
}
