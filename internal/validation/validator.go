// Package validation turns raw order payloads into typed order requests.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"lv-tradecore/internal/apperr"
	"lv-tradecore/internal/collab"
	"lv-tradecore/internal/model"
	"lv-tradecore/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxLoggedPayload = 4096

// MaxBound is the largest quantity or price an order may carry. Configured
// limits can only tighten it.
var MaxBound = decimal.NewFromInt(1_000_000)

// Requester identifies who submitted a payload.
type Requester struct {
	UserID        string
	CorrelationID string
}

type Config struct {
	MinTier     types.Tier
	MaxQuantity decimal.Decimal
	MaxPrice    decimal.Decimal
	Now         func() time.Time
}

type Validator struct {
	tiers    collab.TierResolver
	assets   collab.AssetLookup
	security collab.SecurityLog
	cfg      Config
	log      *slog.Logger
}

func New(tiers collab.TierResolver, assets collab.AssetLookup, security collab.SecurityLog, cfg Config, logger *slog.Logger) *Validator {
	if cfg.MinTier == "" {
		cfg.MinTier = types.TierBasic
	}
	if !cfg.MaxQuantity.IsPositive() || cfg.MaxQuantity.GreaterThan(MaxBound) {
		cfg.MaxQuantity = MaxBound
	}
	if !cfg.MaxPrice.IsPositive() || cfg.MaxPrice.GreaterThan(MaxBound) {
		cfg.MaxPrice = MaxBound
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{tiers: tiers, assets: assets, security: security, cfg: cfg, log: logger}
}

// rawOrder keeps each field undecoded so type mismatches are reported per
// field instead of failing the whole body.
type rawOrder struct {
	AssetID   json.RawMessage `json:"asset_id"`
	OrderType json.RawMessage `json:"order_type"`
	Side      json.RawMessage `json:"side"`
	Quantity  json.RawMessage `json:"quantity"`
	Price     json.RawMessage `json:"price"`
	ExpiresAt json.RawMessage `json:"expires_at"`
}

// fieldErrors keeps insertion order so the summary message is stable.
type fieldErrors struct {
	order []string
	msgs  map[string]string
}

func (f *fieldErrors) add(field, msg string) {
	if f.msgs == nil {
		f.msgs = make(map[string]string)
	}
	if _, ok := f.msgs[field]; ok {
		return
	}
	f.order = append(f.order, field)
	f.msgs[field] = msg
}

func (f *fieldErrors) err() *apperr.Error {
	if len(f.order) == 0 {
		return nil
	}
	msg := f.msgs[f.order[0]]
	if len(f.order) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(f.order)-1)
	}
	return apperr.Validation(msg).WithDetail("fields", f.msgs)
}

// Validate checks the caller's tier, then the payload, then the asset. Every
// rejection is reported to the security log before it is returned.
func (v *Validator) Validate(ctx context.Context, who Requester, payload []byte) (model.OrderRequest, error) {
	req, err := v.validate(ctx, who, payload)
	if err != nil {
		v.reject(ctx, who, payload, err)
		return model.OrderRequest{}, err
	}
	return req, nil
}

func (v *Validator) validate(ctx context.Context, who Requester, payload []byte) (model.OrderRequest, error) {
	tier, err := v.tiers.ResolveTier(ctx, who.UserID)
	if err != nil {
		return model.OrderRequest{}, apperr.Internal(fmt.Errorf("resolve tier: %w", err))
	}
	if !tier.AtLeast(v.cfg.MinTier) {
		return model.OrderRequest{}, apperr.Authorization("subscription required").
			WithDetail("required_tier", string(v.cfg.MinTier))
	}

	req, ferr := v.parse(payload)
	if ferr != nil {
		return model.OrderRequest{}, ferr
	}
	req.UserID = who.UserID

	asset, err := v.assets.GetAsset(ctx, req.AssetID)
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return model.OrderRequest{}, err
		}
		return model.OrderRequest{}, apperr.Internal(fmt.Errorf("get asset: %w", err))
	}
	if !asset.IsActive() {
		return model.OrderRequest{}, apperr.Validation("asset is not tradable").WithDetail("asset_id", asset.ID)
	}
	return req, nil
}

func (v *Validator) parse(payload []byte) (model.OrderRequest, *apperr.Error) {
	var raw rawOrder
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return model.OrderRequest{}, apperr.Validation(decodeMessage(err))
	}
	if dec.More() {
		return model.OrderRequest{}, apperr.Validation("request body must contain a single JSON object")
	}

	var req model.OrderRequest
	var fe fieldErrors

	if s, ok := stringField(raw.AssetID, "asset_id", &fe); ok {
		if id, err := uuid.Parse(s); err != nil {
			fe.add("asset_id", "asset_id must be a UUID")
		} else {
			req.AssetID = id.String()
		}
	}
	if s, ok := stringField(raw.OrderType, "order_type", &fe); ok {
		req.Type = types.OrderType(s)
		if !req.Type.Valid() {
			fe.add("order_type", "order_type must be one of: market, limit, stop_loss, take_profit")
		}
	}
	if s, ok := stringField(raw.Side, "side", &fe); ok {
		req.Side = types.OrderSide(s)
		if !req.Side.Valid() {
			fe.add("side", "side must be one of: buy, sell")
		}
	}
	if q, ok := numberField(raw.Quantity, "quantity", &fe); ok {
		if !q.IsPositive() || q.GreaterThan(v.cfg.MaxQuantity) {
			fe.add("quantity", fmt.Sprintf("quantity must be greater than 0 and at most %s", v.cfg.MaxQuantity))
		} else {
			req.Quantity = q
		}
	}

	switch {
	case req.Type.RequiresPrice():
		if p, ok := numberField(raw.Price, "price", &fe); ok {
			if !p.IsPositive() || p.GreaterThan(v.cfg.MaxPrice) {
				fe.add("price", fmt.Sprintf("price must be greater than 0 and at most %s", v.cfg.MaxPrice))
			} else {
				req.Price = &p
			}
		}
	case req.Type == types.OrderTypeMarket:
		if present(raw.Price) {
			fe.add("price", "price must be omitted for market orders")
		}
	}

	if present(raw.ExpiresAt) {
		var s string
		if err := json.Unmarshal(raw.ExpiresAt, &s); err != nil {
			fe.add("expires_at", "expires_at must be an RFC 3339 timestamp")
		} else if at, err := time.Parse(time.RFC3339, s); err != nil {
			fe.add("expires_at", "expires_at must be an RFC 3339 timestamp")
		} else if !at.After(v.cfg.Now()) {
			fe.add("expires_at", "expires_at must be in the future")
		} else {
			at = at.UTC()
			req.ExpiresAt = &at
		}
	}

	if err := fe.err(); err != nil {
		return model.OrderRequest{}, err
	}
	return req, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func stringField(raw json.RawMessage, name string, fe *fieldErrors) (string, bool) {
	if !present(raw) {
		fe.add(name, "missing required field: "+name)
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		fe.add(name, name+" must be a string")
		return "", false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		fe.add(name, "missing required field: "+name)
		return "", false
	}
	return s, true
}

// numberField accepts only JSON numbers; quoted numerals are rejected.
func numberField(raw json.RawMessage, name string, fe *fieldErrors) (decimal.Decimal, bool) {
	if !present(raw) {
		fe.add(name, "missing required field: "+name)
		return decimal.Zero, false
	}
	var n json.Number
	if raw[0] == '"' || json.Unmarshal(raw, &n) != nil {
		fe.add(name, name+" must be a number")
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		fe.add(name, name+" must be a number")
		return decimal.Zero, false
	}
	return d, true
}

func decodeMessage(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return "malformed JSON body"
	case errors.As(err, &typeErr):
		return "request body must be a JSON object"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return "unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	case errors.Is(err, io.EOF):
		return "request body is empty"
	}
	return "malformed JSON body"
}

func (v *Validator) reject(ctx context.Context, who Requester, payload []byte, err error) {
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}
	viol := collab.Violation{
		UserID:        who.UserID,
		Kind:          apperr.KindOf(err).String(),
		Reason:        reason(err),
		Payload:       string(payload),
		CorrelationID: who.CorrelationID,
		At:            v.cfg.Now(),
	}
	if v.security == nil {
		return
	}
	if lerr := v.security.RecordViolation(ctx, viol); lerr != nil {
		v.log.Error("record violation failed", "error", lerr, "correlation_id", who.CorrelationID)
	}
}

func reason(err error) string {
	if ae, ok := apperr.As(err); ok {
		return ae.Message
	}
	return err.Error()
}
