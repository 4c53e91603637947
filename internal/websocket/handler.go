// internal/websocket/handler.go
package websocket

import (
	"context"
	"net/http"

	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"
	"qrlogin-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The QR endpoints are origin-agnostic; the session id in the query
	// is unguessable and short-lived.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionChecker verifies the session exists before the upgrade.
type SessionChecker interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
}

type Handler struct {
	hub     *Hub
	checker SessionChecker
	logger  *zap.Logger
}

func NewHandler(hub *Hub, checker SessionChecker, logger *zap.Logger) *Handler {
	return &Handler{
		hub:     hub,
		checker: checker,
		logger:  logger,
	}
}

// Serve upgrades GET /ws?session_id=... to a websocket and streams
// transition updates for that session.
func (h *Handler) Serve(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.ValidationError(c, "session_id is required", nil)
		return
	}

	if h.checker != nil {
		if _, err := h.checker.Get(c.Request.Context(), sessionID); err != nil {
			if xerrors.Is(err, xerrors.ErrNotFound) {
				response.NotFound(c, "session not found")
				return
			}
			response.FromError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	NewClient(h.hub, conn, sessionID, h.logger).Start()
}
