package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fjod/scancart/internal/domain"
	"github.com/fjod/scancart/internal/payment"
	"github.com/go-chi/chi/v5"
)

type SessionService interface {
	CreateSession(ctx context.Context) (*domain.PairingTicket, error)
	SubmitScan(ctx context.Context, code string) (domain.ScanClaim, error)
	Session() (domain.Session, error)
	Cart() (domain.LocalCart, error)
	Checkout(ctx context.Context) (*payment.Result, error)
	Teardown()
	Resume() error
	AddItem(ctx context.Context, item domain.LocalCartItem) (domain.LocalCart, error)
	SetQuantity(ctx context.Context, itemID string, qty int) (domain.LocalCart, error)
	RemoveItem(ctx context.Context, itemID string) (domain.LocalCart, error)
}

type Handler struct {
	sessions SessionService
}

func NewHandler(sessions SessionService) *Handler {
	return &Handler{sessions: sessions}
}

type PairRequestDTO struct {
	Code string `json:"code"`
}

type AddItemRequestDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

type SetQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Session()
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.Teardown()
	w.WriteHeader(http.StatusNoContent)
}

// ResumeSession retries following the cart of a paired session.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Resume(); err != nil {
		handleError(w, err)
		return
	}
	s, err := h.sessions.Session()
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *Handler) Pair(w http.ResponseWriter, r *http.Request) {
	var req PairRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(w, http.StatusBadRequest, "invalid_code", "code is required")
		return
	}

	claim, err := h.sessions.SubmitScan(r.Context(), code)
	if err != nil {
		handleError(w, err)
		return
	}
	if claim.Outcome == domain.ScanDropped {
		respondJSON(w, http.StatusAccepted, claim)
		return
	}
	respondJSON(w, http.StatusOK, claim)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.sessions.Cart()
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// Checkout reports every started attempt in the body; failed attempts carry the
// status of their cause.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.sessions.Checkout(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	if res.State == domain.PaymentFailed && res.Err != nil {
		status, _ := errorStatus(res.Err)
		respondJSON(w, status, res)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_item", "id is required")
		return
	}

	cart, err := h.sessions.AddItem(r.Context(), domain.LocalCartItem{
		ID:        strings.TrimSpace(req.ID),
		Name:      req.Name,
		UnitPrice: req.UnitPrice,
		Quantity:  req.Quantity,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_item", "quantity is required")
		return
	}

	cart, err := h.sessions.SetQuantity(r.Context(), chi.URLParam(r, "itemID"), *req.Quantity)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.sessions.RemoveItem(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}
