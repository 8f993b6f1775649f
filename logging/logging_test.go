package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "info", "json")
	require.NoError(t, err)

	log.Debug().Msg("hidden")
	log.Info().Str("room", "ABC123").Msg("shown")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["message"])
	assert.Equal(t, "ABC123", line["room"])
	assert.Contains(t, line, "time")
}

func TestNewRejectsBadSettings(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "debug", "console")
	assert.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	log, err := NewWithWriter(&buf, "debug", "json")
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(log))
	r.GET("/missing/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing/42", nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/missing/:id", line["path"])
	assert.EqualValues(t, 404, line["status"])
}
