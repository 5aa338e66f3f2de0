// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Settings holds process-wide tunables read from the environment.
type Settings struct {
	BasePort       int
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	StopTimeout    time.Duration
	Runtime        string // forces a runtime kind when set
	LogLevel       string
	LogFormat      string
	ListenAddr     string
}

// Default returns the settings used when no environment overrides exist.
func Default() Settings {
	return Settings{
		BasePort:       5000,
		HealthInterval: 2 * time.Second,
		HealthTimeout:  60 * time.Second,
		StopTimeout:    10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
		ListenAddr:     "127.0.0.1:7420",
	}
}

// Load reads settings from DEVSTACK_* environment variables.
func Load() (Settings, error) {
	def := Default()
	s := Settings{
		BasePort:       getInt("DEVSTACK_BASE_PORT", def.BasePort),
		HealthInterval: getDuration("DEVSTACK_HEALTH_INTERVAL", def.HealthInterval),
		HealthTimeout:  getDuration("DEVSTACK_HEALTH_TIMEOUT", def.HealthTimeout),
		StopTimeout:    getDuration("DEVSTACK_STOP_TIMEOUT", def.StopTimeout),
		Runtime:        getEnv("DEVSTACK_RUNTIME", ""),
		LogLevel:       getEnv("DEVSTACK_LOG_LEVEL", def.LogLevel),
		LogFormat:      getEnv("DEVSTACK_LOG_FORMAT", def.LogFormat),
		ListenAddr:     getEnv("DEVSTACK_LISTEN_ADDR", def.ListenAddr),
	}

	if s.BasePort < 1 || s.BasePort > 65535 {
		return Settings{}, fmt.Errorf("DEVSTACK_BASE_PORT out of range: %d", s.BasePort)
	}
	if s.HealthInterval <= 0 {
		return Settings{}, fmt.Errorf("DEVSTACK_HEALTH_INTERVAL must be positive")
	}

	return s, nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
