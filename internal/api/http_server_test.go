package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"barberbook/internal/availability"
	"barberbook/internal/clock"
	"barberbook/internal/closure"
	"barberbook/internal/config"
	"barberbook/internal/models"
	"barberbook/internal/notify"
	"barberbook/internal/repository"
	"barberbook/internal/waitlist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testAPI struct {
	store *repository.MemoryStore
	clock *clock.FakeClock
	ts    *httptest.Server
}

func newTestAPI(t *testing.T, cfg config.APIConfig, pinger Pinger) *testAPI {
	t.Helper()
	store := repository.NewMemoryStore()
	require.NoError(t, store.SaveBarber(context.Background(), &models.Barber{ID: "michele", Name: "Michele", Active: true}))

	clk := clock.Fake(time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC))
	resolver := availability.NewResolver(store, store, closure.NewIndex(store, store, nil), clk, time.UTC, nil)
	engine := waitlist.NewEngine(waitlist.Options{
		Store:    store,
		Barbers:  store,
		Bookings: store,
		Notifier: notify.NewLogNotifier(nil),
		Clock:    clk,
		Location: time.UTC,
	})

	server := NewHTTPServer(cfg, resolver, engine, pinger, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testAPI{store: store, clock: clk, ts: ts}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func TestAvailabilityEndpoint(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, nil)

	t.Run("Success", func(t *testing.T) {
		status, body := api.do(t, http.MethodGet, "/api/v1/barbers/michele/availability?date=2025-12-02", "")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "2025-12-02", body["date"])
		assert.EqualValues(t, 14, body["total"])
		assert.Equal(t, true, body["has_slots"])
		assert.Len(t, body["slots"], 14)
	})

	t.Run("UnknownBarber", func(t *testing.T) {
		status, _ := api.do(t, http.MethodGet, "/api/v1/barbers/ghost/availability?date=2025-12-02", "")
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("MissingDate", func(t *testing.T) {
		status, body := api.do(t, http.MethodGet, "/api/v1/barbers/michele/availability", "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "date is required", body["error"])
	})

	t.Run("BadDate", func(t *testing.T) {
		status, _ := api.do(t, http.MethodGet, "/api/v1/barbers/michele/availability?date=02.12.2025", "")
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("WrongMethod", func(t *testing.T) {
		status, _ := api.do(t, http.MethodPost, "/api/v1/barbers/michele/availability?date=2025-12-02", "")
		assert.Equal(t, http.StatusMethodNotAllowed, status)
	})

	t.Run("StoreDown", func(t *testing.T) {
		api.store.Fail("GetBarber", errors.New("connection refused"))
		defer api.store.Fail("GetBarber", nil)

		status, _ := api.do(t, http.MethodGet, "/api/v1/barbers/michele/availability?date=2025-12-02", "")
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})
}

func TestAvailabilityBatchEndpoint(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, nil)

	t.Run("Success", func(t *testing.T) {
		status, body := api.do(t, http.MethodPost, "/api/v1/availability/batch",
			`{"barber_id":"michele","dates":["2025-12-02","2025-12-07"]}`)
		require.Equal(t, http.StatusOK, status)

		dates, ok := body["dates"].([]any)
		require.True(t, ok)
		require.Len(t, dates, 2)
		sunday := dates[1].(map[string]any)
		assert.Equal(t, "2025-12-07", sunday["date"])
		assert.Equal(t, false, sunday["has_slots"])
	})

	t.Run("TooManyDates", func(t *testing.T) {
		dates := make([]string, 0, models.MaxBatchDates+1)
		for _, d := range models.DateRange(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), models.MaxBatchDates+1) {
			dates = append(dates, `"`+models.DateKey(d)+`"`)
		}
		status, _ := api.do(t, http.MethodPost, "/api/v1/availability/batch",
			fmt.Sprintf(`{"barber_id":"michele","dates":[%s]}`, strings.Join(dates, ",")))
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("UnknownField", func(t *testing.T) {
		status, body := api.do(t, http.MethodPost, "/api/v1/availability/batch",
			`{"barber":"michele","dates":["2025-12-02"]}`)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid JSON body", body["error"])
	})

	t.Run("NoDates", func(t *testing.T) {
		status, _ := api.do(t, http.MethodPost, "/api/v1/availability/batch", `{"barber_id":"michele","dates":[]}`)
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestWaitlistFlow(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{}, nil)
	ctx := context.Background()

	booking := &models.Booking{
		BarberID: "michele", Date: time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC),
		Time: "10:00", CustomerID: "c0", Status: models.BookingConfirmed,
	}
	require.NoError(t, api.store.CreateBooking(ctx, booking))

	status, first := api.do(t, http.MethodPost, "/api/v1/waitlist",
		`{"barber_id":"michele","date":"2025-12-05","customer_id":"c1"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 1, first["position"])
	assert.Equal(t, "waiting", first["status"])

	status, second := api.do(t, http.MethodPost, "/api/v1/waitlist",
		`{"barber_id":"michele","date":"2025-12-05","customer_id":"c2"}`)
	require.Equal(t, http.StatusCreated, status)
	assert.EqualValues(t, 2, second["position"])

	status, _ = api.do(t, http.MethodPost, "/api/v1/waitlist",
		`{"barber_id":"michele","date":"2025-12-05","customer_id":"c1"}`)
	assert.Equal(t, http.StatusConflict, status, "duplicate join")

	status, _ = api.do(t, http.MethodPost, "/api/v1/waitlist",
		`{"barber_id":"michele","date":"2025-11-20","customer_id":"c3"}`)
	assert.Equal(t, http.StatusBadRequest, status, "date in the past")

	status, cancelled := api.do(t, http.MethodPost, "/api/v1/bookings/"+booking.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, status)
	next, ok := cancelled["next_offer"].(map[string]any)
	require.True(t, ok, "freed slot goes to the head of the line")
	assert.Equal(t, first["id"], next["id"])
	assert.Equal(t, "10:00", next["offered_time"])

	status, _ = api.do(t, http.MethodPost, "/api/v1/bookings/"+booking.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, status, "already cancelled")

	status, _ = api.do(t, http.MethodPost, "/api/v1/waitlist/"+first["id"].(string)+"/respond", `{"response":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, outcome := api.do(t, http.MethodPost, "/api/v1/waitlist/"+first["id"].(string)+"/respond", `{"response":"accept"}`)
	require.Equal(t, http.StatusOK, status)
	booked, ok := outcome["booking"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "c1", booked["customer_id"])

	status, _ = api.do(t, http.MethodPost, "/api/v1/waitlist/"+first["id"].(string)+"/respond", `{"response":"accept"}`)
	assert.Equal(t, http.StatusGone, status, "offer already used")

	status, _ = api.do(t, http.MethodDelete, "/api/v1/waitlist/"+first["id"].(string), "")
	assert.Equal(t, http.StatusConflict, status, "booked entry cannot leave")

	status, _ = api.do(t, http.MethodDelete, "/api/v1/waitlist/"+second["id"].(string), "")
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = api.do(t, http.MethodDelete, "/api/v1/waitlist/"+second["id"].(string), "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(t, http.MethodPost, "/api/v1/bookings/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		api := newTestAPI(t, config.APIConfig{}, fakePinger{})
		status, body := api.do(t, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body["status"])

		status, _ = api.do(t, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("StoreDown", func(t *testing.T) {
		api := newTestAPI(t, config.APIConfig{}, fakePinger{err: errors.New("database is locked")})
		status, _ := api.do(t, http.MethodGet, "/readyz", "")
		assert.Equal(t, http.StatusServiceUnavailable, status)
	})
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1}}, nil)

	status, _ := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)

	status, body := api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestClientKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", clientKey(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientKey(r))
}
