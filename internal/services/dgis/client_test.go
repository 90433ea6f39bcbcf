package dgis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kidride-backend/internal/models"
)

var (
	home   = models.Coordinates{Lat: 51.1694, Lng: 71.4491}
	school = models.Coordinates{Lat: 51.1280, Lng: 71.4304}
)

func TestEstimateDuration(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/directions", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "51.169400,71.449100", r.URL.Query().Get("point1"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"meta":{"code":200},"result":{"routes":[{"distance":5200,"duration":780,"type":"car"}]}}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", Options{BaseURL: srv.URL})
	defer client.Close()

	d, err := client.EstimateDuration(context.Background(), home, school)
	require.NoError(t, err)
	assert.Equal(t, 780.0, d.Seconds())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEstimateDurationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("point2") == "0.000000,0.000000" {
			_, _ = w.Write([]byte(`{"meta":{"code":200},"result":{"routes":[]}}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient("bad-key", Options{BaseURL: srv.URL})
	defer client.Close()

	_, err := client.EstimateDuration(context.Background(), home, school)
	assert.Error(t, err)

	_, err = client.EstimateDuration(context.Background(), home, models.Coordinates{})
	assert.True(t, errors.Is(err, ErrNoRoute))
}

func TestDailyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"routes":[{"duration":60}]}}`))
	}))
	defer srv.Close()

	client := NewClient("key", Options{BaseURL: srv.URL, DailyLimit: 1})
	defer client.Close()

	_, err := client.EstimateDuration(context.Background(), home, school)
	require.NoError(t, err)
	_, err = client.EstimateDuration(context.Background(), home, school)
	assert.True(t, errors.Is(err, ErrDailyLimit))
}

func TestRouteKeyRoundsCoordinates(t *testing.T) {
	a := RouteKey(home, school)
	b := RouteKey(models.Coordinates{Lat: 51.16941, Lng: 71.44909}, school)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, RouteKey(school, home))
}
