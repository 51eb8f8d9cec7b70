package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stratahq/strata/common/bootstrap"
	"github.com/stratahq/strata/common/config"
	"github.com/stratahq/strata/common/logger"
	"github.com/stratahq/strata/common/rls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportsPolicyFingerprint(t *testing.T) {
	cfg := config.TenantConfig{OrgVar: "app.current_org_id", ProjectVar: "app.current_project_id"}
	components := &bootstrap.Components{
		Logger: logger.New("error", "json"),
		RLS:    rls.NewSynchronizer(nil, cfg, logger.New("error", "json")),
	}

	e := setupEcho()
	setupHealthCheck(e, components)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	// Policies have never been verified, so the service is degraded,
	// but the body still carries the canonical fingerprint.
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.NotEmpty(t, body["rls_fingerprint"])
	assert.Contains(t, body, "policy_count")
}

func TestHealthWithoutComponentsIsOK(t *testing.T) {
	components := &bootstrap.Components{Logger: logger.New("error", "json")}

	e := setupEcho()
	setupHealthCheck(e, components)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "graphd", body["service"])
}
