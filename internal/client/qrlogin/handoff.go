// internal/client/qrlogin/handoff.go
package qrlogin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	xerrors "qrlogin-service/internal/pkg/errors"
)

// Exchanger is the identity hand-off: it trades the one-time login
// ticket for a real authenticated session. A rejection (consumed,
// expired, malformed ticket) is ErrTicketExchangeFailed, which the
// client surfaces as a sign-in failure, not a scanning failure.
type Exchanger interface {
	Exchange(ctx context.Context, ticket string) error
}

// HTTPExchanger posts the ticket to the identity provider's exchange
// endpoint.
type HTTPExchanger struct {
	url    string
	client *http.Client
}

func NewHTTPExchanger(url string, client *http.Client) *HTTPExchanger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPExchanger{url: url, client: client}
}

func (e *HTTPExchanger) Exchange(ctx context.Context, ticket string) error {
	payload, err := json.Marshal(map[string]string{"ticket": ticket})
	if err != nil {
		return fmt.Errorf("failed to encode exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("exchange request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return xerrors.Wrap(xerrors.ErrTicketExchangeFailed, fmt.Sprintf("identity provider rejected ticket (status %d)", resp.StatusCode))
	default:
		return fmt.Errorf("identity provider unavailable (status %d)", resp.StatusCode)
	}
}
