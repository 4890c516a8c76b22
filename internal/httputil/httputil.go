package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"lv-tradecore/internal/apperr"

	"github.com/google/uuid"
)

const MaxBodyBytes = 64 << 10

type ctxKey string

const correlationKey ctxKey = "correlation_id"

type ErrorBody struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its status and a client-safe body. Internal causes
// never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Internal(err)
		if apperr.IsConflict(err) {
			ae = apperr.Conflict("concurrent update, retry the request", err)
		}
	}
	body := ErrorBody{
		Code:          ae.Code(),
		Message:       ae.Message,
		CorrelationID: CorrelationID(r.Context()),
	}
	switch {
	case ae.Kind != apperr.KindInternal && len(ae.Detail) > 0:
		body.Fields = ae.Detail
	case ae.Detail["order_id"] != nil:
		// the order was stored before the failure
		body.Fields = map[string]any{"order_id": ae.Detail["order_id"]}
	}
	WriteJSON(w, ae.Kind.HTTPStatus(), ErrorResponse{Success: false, Error: body})
}

// ReadBody reads at most MaxBodyBytes of the request body.
func ReadBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, apperr.Validation("could not read request body")
	}
	if len(body) > MaxBodyBytes {
		return nil, apperr.Validation(fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes))
	}
	return body, nil
}

// ReadJSON decodes a small JSON body into v, rejecting unknown fields.
func ReadJSON(r *http.Request, v any) error {
	body, err := ReadBody(r)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("malformed JSON body")
	}
	return nil
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// NewCorrelationID keeps a caller-supplied id when it is short enough to log.
func NewCorrelationID(incoming string) string {
	if incoming != "" && len(incoming) <= 128 {
		return incoming
	}
	return uuid.NewString()
}
