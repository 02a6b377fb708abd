package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thirdcoast.systems/showreel/internal/veo"
)

func postGenerate(t *testing.T, gen *Generator, body string) error {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	return gen.HandleGenerate(c)
}

func TestHandleGenerate_RejectsMalformedPayload(t *testing.T) {
	gen := &Generator{slots: make(chan struct{}, 1)}

	err := postGenerate(t, gen, "{not json")

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandleGenerate_RejectsInvalidJobID(t *testing.T) {
	gen := &Generator{slots: make(chan struct{}, 1)}

	err := postGenerate(t, gen, `{"job_id":"not-a-uuid","source_ref":"ingest/a.png"}`)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestHandleGenerate_TurnsAwayWhenBusy(t *testing.T) {
	// A full slot channel means every worker is mid-generation. The handler
	// must answer before touching the database, so the nil connection proves
	// no queries run.
	gen := &Generator{slots: make(chan struct{}, 1)}
	gen.slots <- struct{}{}

	err := postGenerate(t, gen, `{"job_id":"0d4e7c2a-0c5e-4f39-9d3e-111111111111","source_ref":"ingest/a.png"}`)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Code)
}

func callWithToken(t *testing.T, configured, presented string) (*httptest.ResponseRecorder, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if presented != "" {
		req.Header.Set("Authorization", presented)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	next := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	return rec, requireWorkerToken(configured)(next)(c)
}

func TestRequireWorkerToken(t *testing.T) {
	t.Run("accepts the configured token", func(t *testing.T) {
		rec, err := callWithToken(t, "secret", "Bearer secret")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects a missing header", func(t *testing.T) {
		_, err := callWithToken(t, "secret", "")

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})

	t.Run("rejects a wrong token", func(t *testing.T) {
		_, err := callWithToken(t, "secret", "Bearer guess")

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})

	t.Run("rejects a non-bearer scheme", func(t *testing.T) {
		_, err := callWithToken(t, "secret", "Basic secret")

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})
}

func TestGenerationStatus(t *testing.T) {
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.Equal(t, http.StatusUnprocessableEntity,
			generationStatus(&veo.APIError{StatusCode: code, Message: "rejected"}), "status %d", code)
	}

	for _, code := range []int{429, 500, 503} {
		assert.Equal(t, http.StatusBadGateway,
			generationStatus(&veo.APIError{StatusCode: code, Message: "later"}), "status %d", code)
	}

	assert.Equal(t, http.StatusBadGateway, generationStatus(errors.New("connection reset")))

	// Operation level failures carry no HTTP status.
	assert.Equal(t, http.StatusBadGateway, generationStatus(&veo.APIError{Code: 13, Message: "internal"}))
}
