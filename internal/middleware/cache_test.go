package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshone/ht-cal-01-sub000/internal/config"
)

const testSecret = "test-secret"

func accessToken(t *testing.T, userID uint64) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": float64(userID),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func cacheTestConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:     true,
		Methods:     map[string]bool{"GET": true},
		TTL:         30 * time.Second,
		KeyStrategy: "route_query",
		Prefix:      "cache",
	}
}

// cacheKeyGroup assembles a group the way main wires the API: JWTAuth
// first, then a stage that observes the cache key the cache middleware
// would use for the request.
func cacheKeyGroup(cfg config.CacheConfig) (*echo.Echo, *[]string) {
	e := echo.New()
	var keys []string
	api := e.Group("/api")
	api.Use(JWTAuth(testSecret), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			keys = append(keys, cacheKeyFrom(cfg, c))
			return next(c)
		}
	})
	api.GET("/events", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e, &keys
}

func TestCacheKeyDiffersAcrossUsers(t *testing.T) {
	e, keys := cacheKeyGroup(cacheTestConfig())

	for _, uid := range []uint64{42, 7} {
		req := httptest.NewRequest(http.MethodGet, "/api/events?viewType=month", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken(t, uid))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, *keys, 2)
	assert.NotEqual(t, (*keys)[0], (*keys)[1],
		"identical route and query must not share a cache entry across users")
}

func TestCacheKeyStableForOneUser(t *testing.T) {
	e, keys := cacheKeyGroup(cacheTestConfig())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/events?viewType=month", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken(t, 42))
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Len(t, *keys, 2)
	assert.Equal(t, (*keys)[0], (*keys)[1], "repeat requests by one user must hit the same entry")
}

func TestUnauthenticatedRequestNeverReachesCacheStage(t *testing.T) {
	e, keys := cacheKeyGroup(cacheTestConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/events?viewType=month", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, *keys, "the cache sits behind authentication, so no key may be computed")
}

func TestRateKeyUsesAuthenticatedUser(t *testing.T) {
	cfg := config.RateLimitConfig{KeyStrategy: "ip_user_route", Prefix: "rl"}
	e := echo.New()
	var keys []string
	api := e.Group("/api")
	api.Use(JWTAuth(testSecret), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			keys = append(keys, buildRateKey(cfg, c))
			return next(c)
		}
	})
	api.GET("/events", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken(t, 42))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], ":user:42:", "authenticated traffic gets its own bucket")
}
