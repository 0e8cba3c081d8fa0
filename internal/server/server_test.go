package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/funds/internal/config"
	"github.com/congo-pay/funds/internal/logging"
)

func TestUnknownRouteRendersJSONError(t *testing.T) {
	srv, err := New(config.Config{AppEnv: "test", LockTimeout: time.Second}, nil, nil, nil, logging.Discard())
	require.NoError(t, err)

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":{"kind":"not_found","message":"Cannot GET /nope"}}`, string(body))
}

func TestNewFailsWithoutDatabaseInProduction(t *testing.T) {
	_, err := New(config.Config{AppEnv: "production"}, nil, nil, nil, logging.Discard())
	assert.Error(t, err)
}
