package notification

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	myMiddleware "go-social/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	items, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, "failed to load notifications", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []*Notification{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

type CreateRequest struct {
	UserID  string `json:"user"`
	Type    Type   `json:"type"`
	PostID  string `json:"post,omitempty"`
	Message string `json:"message"`
}

// Create records a notification caused by the authenticated user and pushes
// it to the recipient.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.service.Notify(r.Context(), &Notification{
		UserID:       req.UserID,
		ActionUserID: actorID,
		Type:         req.Type,
		PostID:       req.PostID,
		Message:      req.Message,
	})
	if err != nil {
		if errors.Is(err, ErrInvalid) || errors.Is(err, ErrInvalidType) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "failed to create notification", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(n)
}
