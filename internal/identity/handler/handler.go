// Package handler exposes the identity service over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reconciler/internal/identity/models"
	id "reconciler/pkg/domain"
	dErrors "reconciler/pkg/domain-errors"
	"reconciler/pkg/platform/httputil"
	"reconciler/pkg/requestcontext"
)

// Service defines the identity operations the handler needs.
type Service interface {
	Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentityView, error)
	Lookup(ctx context.Context, contactID id.ContactID) (*models.IdentityView, error)
	SoftDelete(ctx context.Context, contactID id.ContactID) error
}

type Handler struct {
	service    Service
	logger     *slog.Logger
	identifyMW []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithIdentifyMiddleware guards POST /identify only, e.g. with a rate limiter.
func WithIdentifyMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.identifyMW = append(h.identifyMW, mw...)
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.identifyMW...).Post("/identify", h.HandleIdentify)
	r.Get("/contacts/{id}", h.HandleLookup)
	r.Delete("/contacts/{id}", h.HandleDelete)
}

// HandleIdentify reconciles the posted identifiers and returns the consolidated identity.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IdentifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	view, err := h.service.Identify(ctx, req.ToModel())
	if err != nil {
		h.writeServiceError(ctx, w, "identify request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentifyResponse(view))
}

// HandleLookup returns the identity containing the contact in the path.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contactID, err := id.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := h.service.Lookup(ctx, contactID)
	if err != nil {
		h.writeServiceError(ctx, w, "lookup request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentifyResponse(view))
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contactID, err := id.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.SoftDelete(ctx, contactID); err != nil {
		h.writeServiceError(ctx, w, "delete request failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	args := []any{
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if dErrors.CodeOf(err).IsClientError() {
		h.logger.WarnContext(ctx, msg, args...)
	} else {
		h.logger.ErrorContext(ctx, msg, args...)
	}
	httputil.WriteError(w, err)
}
