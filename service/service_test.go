package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthzPlain(t *testing.T) {
	h := &HealthzServer{}
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHealthzWithStatus(t *testing.T) {
	svc := New(Config{
		Log:    log.NewLogger(log.DiscardHandler()),
		Status: func() map[string]string { return map[string]string{"state": "runner-started"} },
	})
	rec := httptest.NewRecorder()
	svc.Healthz.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, "runner-started", body["state"])
}

func TestShutdownWithoutStart(t *testing.T) {
	svc := New(Config{Log: log.NewLogger(log.DiscardHandler())})
	svc.Start(t.Context())
	svc.Shutdown()
}
