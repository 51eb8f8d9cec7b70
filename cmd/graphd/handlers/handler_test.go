package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestPathUUID(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/", "")
	c.SetParamNames("canonicalId")
	c.SetParamValues("not-a-uuid")

	_, err := pathUUID(c, "canonicalId")
	require.Error(t, err)

	id := uuid.New()
	c.SetParamValues(id.String())
	got, err := pathUUID(c, "canonicalId")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestQueryUUID(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/?branch_id=garbage", "")
	_, err := queryUUID(c, "branch_id")
	require.Error(t, err)

	c, _ = newTestContext(http.MethodGet, "/", "")
	got, err := queryUUID(c, "branch_id")
	require.NoError(t, err)
	assert.Nil(t, got, "absent parameter should resolve to nil")

	id := uuid.New()
	c, _ = newTestContext(http.MethodGet, "/?branch_id="+id.String(), "")
	got, err = queryUUID(c, "branch_id")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, id, *got)
}

func TestObjectCreateRequiresType(t *testing.T) {
	h := NewObjectHandler(nil)

	c, rec := newTestContext(http.MethodPost, "/api/v1/graph/objects", `{"properties":{"a":1}}`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "type is required")
}

func TestObjectCreateRejectsMalformedBody(t *testing.T) {
	h := NewObjectHandler(nil)

	c, rec := newTestContext(http.MethodPost, "/api/v1/graph/objects", `{broken`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRelationshipCreateRequiresEndpoints(t *testing.T) {
	h := NewRelationshipHandler(nil)

	c, rec := newTestContext(http.MethodPost, "/api/v1/graph/relationships", `{"type":"influences"}`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "src_object_id and dst_object_id are required")
}

func TestMergeRequiresSourceBranch(t *testing.T) {
	h := NewBranchHandler(nil, nil, nil)

	c, rec := newTestContext(http.MethodPost, "/api/v1/graph/branches/x/merge", `{"canonical_id":"`+uuid.New().String()+`"}`)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	require.NoError(t, h.Merge(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBranchCreateRequiresName(t *testing.T) {
	h := NewBranchHandler(nil, nil, nil)

	c, rec := newTestContext(http.MethodPost, "/api/v1/graph/branches", `{}`)
	require.NoError(t, h.Create(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name is required")
}

func TestTagRequiresProductVersion(t *testing.T) {
	h := NewReleaseHandler(nil)

	c, rec := newTestContext(http.MethodPut, "/api/v1/graph/tags/stable", `{}`)
	c.SetParamNames("name")
	c.SetParamValues("stable")

	require.NoError(t, h.Tag(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "product_version_id is required")
}
