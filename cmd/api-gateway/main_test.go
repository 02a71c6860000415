package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/tenantguard/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObservabilityConfig
		wantErr string
	}{
		{name: "json", cfg: config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}},
		{name: "console", cfg: config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"}},
		{name: "invalid level", cfg: config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"}, wantErr: "invalid log level"},
		{name: "invalid format", cfg: config.ObservabilityConfig{LogLevel: "info", LogFormat: "xml"}, wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := initLogger(tt.cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewServer(t *testing.T) {
	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 7 * time.Second,
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	srv := newServer(cfg, handler)
	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadTimeout)
	assert.Equal(t, 3*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 7*time.Second, srv.WriteTimeout)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
