/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	config := &Config{
		Level:  "debug",
		Debug:  true,
		Output: "stdout",
	}

	err := Init(config)
	require.NoError(t, err)

	logger := GetLogger()
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	assert.Equal(t, zerolog.DebugLevel, log.Logger.GetLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(&Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestIsVerbose(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   bool
	}{
		{name: "nil config", config: nil, want: false},
		{name: "info level", config: &Config{Level: "info"}, want: false},
		{name: "debug level", config: &Config{Level: "DEBUG"}, want: true},
		{name: "trace level", config: &Config{Level: "trace"}, want: true},
		{name: "debug flag", config: &Config{Level: "warn", Debug: true}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.IsVerbose())
		})
	}
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("DEBUG", "on")

	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, "stderr", cfg.Output)
	assert.True(t, cfg.Debug)
}

func TestNewTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()
	assert.False(t, l.Info().Enabled())
}
