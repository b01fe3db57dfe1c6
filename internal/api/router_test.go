package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"kostfinder/internal/config"
	"kostfinder/internal/listing"
	"kostfinder/internal/logging"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		JwtSecret:               "testsecret",
		RateLimitSoftBucketSize: 100,
		RateLimitSoftRefillRate: 100,
		RateLimitHardBucketSize: 100,
		RateLimitHardRefillRate: 100,
		CheapPriceLimit:         listing.DefaultCheapLimit,
	}
	logger := logging.Discard()
	store := listing.NewStore(nil, nil, logger)
	return SetupRouter(cfg, logger, nil, nil, store, nil, nil)
}

func TestSetupRouter_Ping(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/ping", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSetupRouter_Preflight(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/v1/api", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSetupRouter_EmptyListings(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/listing?category=Putri", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSetupRouter_UploadRequiresAuth(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/upload", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSetupRouter_ImageReprocessRequiresAuth(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/image/abc123/process", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSetupServiceRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	shutdown := make(chan struct{}, 1)
	r := SetupServiceRouter(logging.Discard(), nil, shutdown)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api", bytes.NewBufferString(`{"method":"nope"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/api", bytes.NewBufferString(`{"method":"getTestEmail","arguments":["welcome"]}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/api", bytes.NewBufferString(`{"method":"shutdown"}`))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	select {
	case <-shutdown:
	default:
		t.Fatal("shutdown was not signalled")
	}
}
