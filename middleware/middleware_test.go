package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	art, err := kernel.ParseConfig(map[string]string{"STORE_DRIVER": "memory"})
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	r := models.Reseller{TenantID: "t1", Name: "Seven", ApiKeyHash: kernel.ApiKeyHash("good")}
	r.ID = 7
	mem.AddReseller(r)
	art.Store = mem

	e := gin.New()
	e.Use(TracerMiddleware(art))
	e.POST("/echo", ApiKeyMiddleware(), func(c *gin.Context) {
		rt := c.MustGet("rt").(*kernel.RequestRuntime)
		body, _ := c.GetRawData()
		c.String(http.StatusOK, "%d:%s", rt.Reseller.ID, body)
	})
	return e
}

func call(e *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello"))
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestApiKeyMiddleware(t *testing.T) {
	e := newRouter(t)

	w := call(e, "good")
	require.Equal(t, http.StatusOK, w.Code)
	// the tracer restores the body after recording it
	assert.Equal(t, "7:hello", w.Body.String())

	w = call(e, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "no api key")

	w = call(e, "bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "traceId")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc")))
	assert.Len(t, truncate([]byte(strings.Repeat("x", maxRecordedBody+10))), maxRecordedBody)
}
