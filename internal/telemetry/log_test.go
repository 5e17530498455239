package telemetry_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/assessment/internal/telemetry"
)

func TestSetupLogger(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	tests := map[string]struct {
		config  telemetry.LogConfig
		wantErr bool
		assert  func(t *testing.T, out *bytes.Buffer)
	}{
		"json format should write json lines": {
			config: telemetry.LogConfig{Level: "info", Format: "json"},
			assert: func(t *testing.T, out *bytes.Buffer) {
				var line map[string]any
				require.NoError(t, json.Unmarshal(out.Bytes(), &line))
				assert.Equal(t, "hello", line["msg"])
				assert.Equal(t, "s1", line["session"])
			},
		},
		"warn level should drop info": {
			config: telemetry.LogConfig{Level: "warn"},
			assert: func(t *testing.T, out *bytes.Buffer) {
				assert.Empty(t, out.String())
			},
		},
		"empty config should log info as text": {
			assert: func(t *testing.T, out *bytes.Buffer) {
				assert.Contains(t, out.String(), "msg=hello")
			},
		},
		"unknown level should fail": {
			config:  telemetry.LogConfig{Level: "loud"},
			wantErr: true,
		},
		"unknown format should fail": {
			config:  telemetry.LogConfig{Format: "xml"},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer

			err := telemetry.SetupLogger(tt.config, &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			slog.Info("hello", "session", "s1")
			tt.assert(t, &out)
		})
	}
}

func TestGinMiddleware(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var out bytes.Buffer
	require.NoError(t, telemetry.SetupLogger(telemetry.LogConfig{Format: "json"}, &out))

	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(telemetry.GinMetrics(), telemetry.GinLogger())
	e.GET("/v1/sessions/:sessionID", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "http: request finished", line["msg"])
	assert.Equal(t, "/v1/sessions/s1", line["path"])
	assert.EqualValues(t, http.StatusNoContent, line["status"])
}
