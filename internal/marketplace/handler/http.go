package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/findx/internal/auth"
	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/search"
	"github.com/example/findx/internal/marketplace/service"
)

// maxBodyBytes bounds request payloads.
const maxBodyBytes = 1 << 20

// HTTP exposes marketplace endpoints.
type HTTP struct {
	svc    *service.Service
	issuer *auth.Issuer
	logger *zap.Logger
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, issuer *auth.Issuer, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, issuer: issuer, logger: logger}
}

// Router builds the chi router with all endpoints and middlewares.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Get("/offers/nearby", h.nearby)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.issuer))
			r.Get("/auth/me", h.me)

			r.Get("/offers/mine", h.listMyOffers)
			r.Post("/offers", h.createOffer)
			r.Patch("/offers/{id}", h.updateOffer)
			r.Delete("/offers/{id}", h.deleteOffer)

			r.Post("/bookings", h.createBooking)
			r.Get("/bookings/mine", h.listMyBookings)
			r.Get("/bookings/{id}", h.getBooking)
			r.Patch("/bookings/{id}/status", h.updateBookingStatus)
			r.Get("/bookings/{id}/messages", h.listMessages)
			r.Post("/bookings/{id}/messages", h.postMessage)
		})

		r.Get("/offers/{id}", h.getOffer)
	})
	return r
}

func (h *HTTP) register(w http.ResponseWriter, r *http.Request) {
	var payload service.RegisterRequest
	if !decode(w, r, &payload) {
		return
	}
	resp, err := h.svc.Register(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *HTTP) login(w http.ResponseWriter, r *http.Request) {
	var payload service.LoginRequest
	if !decode(w, r, &payload) {
		return
	}
	resp, err := h.svc.Login(r.Context(), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTP) me(w http.ResponseWriter, r *http.Request) {
	identity, err := h.svc.Me(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

func (h *HTTP) nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lng := q.Get("lon")
	if lng == "" {
		lng = q.Get("lng")
	}
	query, err := search.ParseQuery(q.Get("lat"), lng, q.Get("radiusKm"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	offers, err := h.svc.Nearby(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if offers == nil {
		offers = []domain.OfferWithDistance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (h *HTTP) listMyOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.svc.ListMyOffers(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (h *HTTP) createOffer(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateOfferRequest
	if !decode(w, r, &payload) {
		return
	}
	offer, err := h.svc.CreateOffer(r.Context(), actor(r), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"offer": offer})
}

func (h *HTTP) getOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	offer, err := h.svc.GetOffer(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": offer})
}

func (h *HTTP) updateOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload service.UpdateOfferRequest
	if !decode(w, r, &payload) {
		return
	}
	offer, err := h.svc.UpdateOffer(r.Context(), actor(r), id, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer": offer})
}

func (h *HTTP) deleteOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if err := h.svc.DeleteOffer(r.Context(), actor(r), id, hard); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *HTTP) createBooking(w http.ResponseWriter, r *http.Request) {
	var payload service.CreateBookingRequest
	if !decode(w, r, &payload) {
		return
	}
	booking, err := h.svc.CreateBooking(r.Context(), actor(r), r.Header.Get("Idempotency-Key"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"booking": booking})
}

func (h *HTTP) listMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.svc.ListMyBookings(r.Context(), actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if bookings == nil {
		bookings = []domain.BookingView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (h *HTTP) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := h.svc.GetBooking(r.Context(), actor(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (h *HTTP) updateBookingStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload service.UpdateStatusRequest
	if !decode(w, r, &payload) {
		return
	}
	booking, err := h.svc.UpdateBookingStatus(r.Context(), actor(r), id, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": booking})
}

func (h *HTTP) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	messages, err := h.svc.ListMessages(r.Context(), actor(r), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *HTTP) postMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var payload service.PostMessageRequest
	if !decode(w, r, &payload) {
		return
	}
	msg, err := h.svc.PostMessage(r.Context(), actor(r), id, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// actor is only called behind auth.Middleware, which guarantees presence.
func actor(r *http.Request) domain.Actor {
	a, _ := auth.ActorFromContext(r.Context())
	return a
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTP) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
