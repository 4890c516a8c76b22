package trading

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/httputil"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"
	"lv-tradecore/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type orderView struct {
	ID                string            `json:"id"`
	AssetID           string            `json:"asset_id"`
	AssetSymbol       string            `json:"asset_symbol"`
	Type              types.OrderType   `json:"order_type"`
	Side              types.OrderSide   `json:"side"`
	Quantity          decimal.Decimal   `json:"quantity"`
	Price             *decimal.Decimal  `json:"price"`
	Status            types.OrderStatus `json:"status"`
	RemainingQuantity decimal.Decimal   `json:"remaining_quantity"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

func viewOf(o model.Order) orderView {
	return orderView{
		ID:                o.ID,
		AssetID:           o.AssetID,
		AssetSymbol:       o.AssetSymbol,
		Type:              o.Type,
		Side:              o.Side,
		Quantity:          o.Quantity,
		Price:             o.Price,
		Status:            o.Status,
		RemainingQuantity: o.RemainingQuantity,
		ExpiresAt:         o.ExpiresAt,
		CreatedAt:         o.CreatedAt,
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func requester(r *http.Request, userID string) validation.Requester {
	return validation.Requester{UserID: userID, CorrelationID: httputil.CorrelationID(r.Context())}
}

func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	res, err := h.svc.PlaceOrder(r.Context(), requester(r, userID), body)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"order":      viewOf(res.Order),
		"executions": nonNil(res.Executions),
	})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID string) {
	d, err := h.svc.GetOrder(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"order":      viewOf(d.Order),
		"fills":      nonNil(d.Fills),
		"executions": nonNil(d.Executions),
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := h.svc.ListOrders(r.Context(), userID, strings.TrimSpace(q.Get("status")), limit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(list))
	for _, o := range list {
		views = append(views, viewOf(o))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "orders": views})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID string) {
	o, err := h.svc.CancelOrder(r.Context(), requester(r, userID), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "order": viewOf(o)})
}

func (h *Handler) Holdings(w http.ResponseWriter, r *http.Request, userID string) {
	list, err := h.svc.ListHoldings(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "holdings": nonNil(list)})
}

type settlementRequest struct {
	Status string `json:"status"`
}

// Settle is mounted on the internal router; the caller is a service.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	who := requester(r, "internal")
	e, err := h.svc.UpdateSettlement(r.Context(), who, chi.URLParam(r, "id"), strings.ToLower(strings.TrimSpace(req.Status)))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "execution": e})
}

type creditRequest struct {
	UserID  string `json:"user_id"`
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.IsPositive() {
		httputil.WriteError(w, r, apperr.Validation("amount must be a positive decimal string"))
		return
	}
	h2, err := h.svc.Credit(r.Context(), requester(r, "internal"), strings.TrimSpace(req.UserID), strings.ToLower(strings.TrimSpace(req.AssetID)), amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "holding": h2})
}
