package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lms/internal/app"
)

func restoreLogging(t *testing.T) {
	t.Helper()
	level := log.GetLevel()
	formatter := log.StandardLogger().Formatter
	t.Cleanup(func() {
		log.SetLevel(level)
		log.SetFormatter(formatter)
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	restoreLogging(t)

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, app.DefaultConfig(), cfg)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	restoreLogging(t)

	path := filepath.Join(t.TempDir(), "service.env")
	require.NoError(t, os.WriteFile(path, []byte("LMS_KINDS=order\nLMS_LOG_LEVEL=debug\nLMS_LOG_FORMAT=json\n"), 0o600))
	t.Cleanup(func() {
		for _, key := range []string{"LMS_KINDS", "LMS_LOG_LEVEL", "LMS_LOG_FORMAT"} {
			_ = os.Unsetenv(key)
		}
	})

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "order", cfg.Kinds)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
}

func TestLoadConfig_Errors(t *testing.T) {
	restoreLogging(t)

	testCases := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown kind", env: map[string]string{"LMS_KINDS": "cargo,ship"}},
		{name: "postgres without dsn", env: map[string]string{"LMS_STORAGE_DRIVER": "postgres"}},
		{name: "bad log level", env: map[string]string{"LMS_LOG_LEVEL": "chatty"}},
		{name: "bad log format", env: map[string]string{"LMS_LOG_FORMAT": "xml"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := loadConfig(filepath.Join(t.TempDir(), "absent.env"))
			require.Error(t, err)
		})
	}
}
