// internal/handlers/identity/exchange_handler.go
package identity

import (
	"net/http"

	"qrlogin-service/internal/pkg/response"
	identityUsecase "qrlogin-service/internal/service/identity"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ExchangeHandler struct {
	provider *identityUsecase.Provider
	logger   *zap.Logger
}

func NewExchangeHandler(provider *identityUsecase.Provider, logger *zap.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		provider: provider,
		logger:   logger,
	}
}

type exchangeRequest struct {
	Ticket string `json:"ticket"`
}

// Exchange redeems a one-time login ticket for an authenticated session.
func (h *ExchangeHandler) Exchange(c *gin.Context) {
	var req exchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	result, err := h.provider.Exchange(c.Request.Context(), req.Ticket)
	if err != nil {
		h.logger.Warn("ticket exchange failed",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "login ticket exchanged", result)
}
