// internal/client/qrlogin/api.go
package qrlogin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"
)

// API is the session-service surface the client drives. HTTPAPI is the
// production implementation; tests substitute an in-process fake.
type API interface {
	Init(ctx context.Context, req *domain.InitRequest) (*domain.InitResponse, error)
	Status(ctx context.Context, req *domain.StatusRequest) (*domain.StatusResponse, error)
	Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.CancelResponse, error)
}

// envelope mirrors the server's response format.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPAPI calls the session service over its JSON API.
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAPI{baseURL: baseURL, client: client}
}

func (a *HTTPAPI) Init(ctx context.Context, req *domain.InitRequest) (*domain.InitResponse, error) {
	var out domain.InitResponse
	if err := a.post(ctx, "/api/v1/qr/init", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Status(ctx context.Context, req *domain.StatusRequest) (*domain.StatusResponse, error) {
	var out domain.StatusResponse
	if err := a.post(ctx, "/api/v1/qr/status", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) Cancel(ctx context.Context, req *domain.CancelRequest) (*domain.CancelResponse, error) {
	var out domain.CancelResponse
	if err := a.post(ctx, "/api/v1/qr/cancel", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *HTTPAPI) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		// Network failures are transient, never a protocol verdict
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		code := ""
		msg := env.Message
		if env.Error != nil {
			code = env.Error.Code
			if env.Error.Message != "" {
				msg = env.Error.Message
			}
		}
		return decodeAPIError(code, msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// decodeAPIError maps the server's error codes back onto the shared
// sentinels so callers can errors.Is their way through.
func decodeAPIError(code, message string) error {
	var base error
	switch code {
	case "SESSION_NOT_FOUND":
		base = xerrors.ErrNotFound
	case "INVALID_NONCE":
		base = xerrors.ErrNonceMismatch
	case "ALREADY_FINALIZED":
		base = xerrors.ErrAlreadyFinalized
	case "SESSION_EXPIRED":
		base = xerrors.ErrSessionExpired
	case "INVALID_QR_CODE":
		base = xerrors.ErrInvalidPayload
	case "MISSING_PARAMETER":
		base = xerrors.ErrInvalidInput
	case "TICKET_EXCHANGE_FAILED":
		base = xerrors.ErrTicketExchangeFailed
	case "ROLE_NOT_ALLOWED":
		base = xerrors.ErrRoleNotAllowed
	case "RATE_LIMITED":
		base = xerrors.ErrRateLimited
	case "STORAGE_UNAVAILABLE":
		base = xerrors.ErrStorageUnavailable
	default:
		base = xerrors.ErrInternal
	}
	if message == "" {
		return base
	}
	return xerrors.Wrap(base, message)
}
