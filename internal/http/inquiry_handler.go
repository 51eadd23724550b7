package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"estately/internal/inquiries"
)

// InquiryHandler serves contact requests between members and listing owners.
type InquiryHandler struct {
	service *inquiries.Service
	logger  *slog.Logger
}

// NewInquiryHandler creates a handler.
func NewInquiryHandler(service *inquiries.Service, logger *slog.Logger) *InquiryHandler {
	return &InquiryHandler{service: service, logger: logger}
}

// List returns the caller's received (default) or sent requests.
func (h *InquiryHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	values := r.URL.Query()
	opts := inquiries.ListOptions{}
	if raw := filterParam(values, "property_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid property_id filter")
			return
		}
		opts.PropertyID = &id
	}
	if raw := filterParam(values, "status"); raw != "" {
		status := inquiries.Status(raw)
		opts.Status = &status
	}
	var err error
	if opts.Offset, opts.Limit, err = parsePagination(values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, total, err := h.service.List(r.Context(), principal.User.ID, inquiries.Box(filterParam(values, "box")), opts)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeList(w, rows, total)
}

type contactRequestPayload struct {
	PropertyID uuid.UUID `json:"property_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Message    string    `json:"message"`
}

// Create sends a contact request to a listing's owner.
func (h *InquiryHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}

	var payload contactRequestPayload
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}
	if payload.PropertyID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "property_id is required")
		return
	}

	request, err := h.service.Create(r.Context(), principal.User.ID, inquiries.CreateInput{
		PropertyID: payload.PropertyID,
		Name:       payload.Name,
		Email:      payload.Email,
		Phone:      payload.Phone,
		Message:    payload.Message,
	})
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, request)
}

// UpdateStatus moves a received request through its workflow.
func (h *InquiryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		unauthorized(w)
		return
	}
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := decodeJSONBody(w, r, &payload); err != nil {
		writeJSONError(w, err)
		return
	}

	request, err := h.service.UpdateStatus(r.Context(), principal.User.ID, id, inquiries.Status(payload.Status))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, request)
}
