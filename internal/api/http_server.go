package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"barberbook/internal/availability"
	"barberbook/internal/config"
	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/metrics"
	"barberbook/internal/models"
	"barberbook/internal/waitlist"

	"github.com/rs/zerolog"
)

// AvailabilityService answers slot queries.
type AvailabilityService interface {
	AvailableSlots(ctx context.Context, barberID string, date time.Time) (*availability.DayAvailability, error)
	BatchAvailability(ctx context.Context, req availability.BatchRequest) (*availability.BatchResult, error)
}

// WaitlistService runs waitlist and cancellation flows.
type WaitlistService interface {
	Join(ctx context.Context, barberID string, date time.Time, customerID string) (*models.WaitlistEntry, error)
	Respond(ctx context.Context, entryID string, response models.Response) (*waitlist.Outcome, error)
	Leave(ctx context.Context, entryID string) error
	CancelBooking(ctx context.Context, bookingID string) (*models.Booking, *models.WaitlistEntry, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPServer exposes availability and waitlist operations over JSON.
type HTTPServer struct {
	cfg          config.APIConfig
	availability AvailabilityService
	waitlist     WaitlistService
	store        Pinger
	limiter      *rateLimiter
	logger       *zerolog.Logger
	server       *http.Server
}

func NewHTTPServer(
	cfg config.APIConfig,
	avail AvailabilityService,
	wl WaitlistService,
	store Pinger,
	logger *zerolog.Logger,
) *HTTPServer {
	srv := &HTTPServer{
		cfg:          cfg,
		availability: avail,
		waitlist:     wl,
		store:        store,
		limiter:      newRateLimiter(cfg.RateLimit),
		logger:       logging.Component(logger, "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/barbers/{barberID}/availability", srv.handleAvailability)
	mux.HandleFunc("POST /api/v1/availability/batch", srv.handleAvailabilityBatch)
	mux.HandleFunc("POST /api/v1/waitlist", srv.handleJoin)
	mux.HandleFunc("POST /api/v1/waitlist/{entryID}/respond", srv.handleRespond)
	mux.HandleFunc("DELETE /api/v1/waitlist/{entryID}", srv.handleLeave)
	mux.HandleFunc("POST /api/v1/bookings/{bookingID}/cancel", srv.handleCancelBooking)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.limiter.wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")

	date, ok := parseDateParam(w, r.URL.Query().Get("date"))
	if !ok {
		return
	}

	day, err := s.availability.AvailableSlots(r.Context(), r.PathValue("barberID"), date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"barber_id":           day.BarberID,
		"date":                models.DateKey(day.Date),
		"slots":               day.Slots,
		"total":               day.Total,
		"has_slots":           day.HasSlots(),
		"exceptional_opening": day.ExceptionalOpening,
	})
}

func (s *HTTPServer) handleAvailabilityBatch(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability_batch")

	var body struct {
		BarberID string   `json:"barber_id"`
		Dates    []string `json:"dates"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if len(body.Dates) > models.MaxBatchDates {
		s.writeDomainError(w, r, fmt.Errorf("%w: %d dates, at most %d", domain.ErrTooManyDates, len(body.Dates), models.MaxBatchDates))
		return
	}

	dates := make([]time.Time, 0, len(body.Dates))
	for _, raw := range body.Dates {
		d, ok := parseDateParam(w, raw)
		if !ok {
			return
		}
		dates = append(dates, d)
	}

	res, err := s.availability.BatchAvailability(r.Context(), availability.BatchRequest{BarberID: body.BarberID, Dates: dates})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_join")

	var body struct {
		BarberID   string `json:"barber_id"`
		Date       string `json:"date"`
		CustomerID string `json:"customer_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	date, ok := parseDateParam(w, body.Date)
	if !ok {
		return
	}

	entry, err := s.waitlist.Join(r.Context(), body.BarberID, date, body.CustomerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleRespond(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_respond")

	var body struct {
		Response string `json:"response"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	response := models.Response(strings.ToLower(strings.TrimSpace(body.Response)))
	out, err := s.waitlist.Respond(r.Context(), r.PathValue("entryID"), response)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_leave")

	if err := s.waitlist.Leave(r.Context(), r.PathValue("entryID")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_cancel")

	booking, next, err := s.waitlist.CancelBooking(r.Context(), r.PathValue("bookingID"))
	if err != nil && booking == nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err != nil {
		// the booking is cancelled, only the follow-up offer failed
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("offer after cancellation failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking":    booking,
		"next_offer": next,
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps domain error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOfferExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeError(w, status, msg)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func parseDateParam(w http.ResponseWriter, raw string) (time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return time.Time{}, false
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return d, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
