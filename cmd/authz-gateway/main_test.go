package main

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr string
	}{
		{name: "default json logger", level: "info", format: "json"},
		{name: "development console logger", level: "debug", format: "console"},
		{name: "defaults when not set"},
		{name: "invalid log level", level: "loud", format: "json", wantErr: "invalid log level"},
		{name: "invalid log format", level: "info", format: "xml", wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Environment:   "test",
				Observability: config.ObservabilityConfig{LogLevel: tt.level, LogFormat: tt.format},
			}

			logger, err := initLogger(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "version"})

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("port"))
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, version+"\n", out.String())
}

func TestMigrateCommand_MemoryDriver(t *testing.T) {
	os.Clearenv()
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "error")

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})

	assert.NoError(t, root.ExecuteContext(context.Background()))
}

func TestMigrateCommand_InvalidConfig(t *testing.T) {
	os.Clearenv()
	t.Setenv("STORAGE_DRIVER", "mongo")

	root := newRootCmd()
	root.SetArgs([]string{"migrate"})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}
