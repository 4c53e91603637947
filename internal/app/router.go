// internal/app/router.go
package app

import (
	"net/http"

	identityHandler "qrlogin-service/internal/handlers/identity"
	qrHandler "qrlogin-service/internal/handlers/qr"
	"qrlogin-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	QRHandler       *qrHandler.QRHandler
	ExchangeHandler *identityHandler.ExchangeHandler
	WSHandler       *websocket.Handler
	MetricsHandler  http.Handler
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Metrics ====================
	r.GET("/metrics", gin.WrapH(h.MetricsHandler))

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.Serve)

	// ==================== QR Login ====================
	qr := api.Group("/qr")
	{
		// Web client
		qr.POST("/init", h.QRHandler.Init)
		qr.POST("/status", h.QRHandler.Status)
		qr.POST("/cancel", h.QRHandler.Cancel)

		// Mobile app
		qr.POST("/scan", h.QRHandler.Scan)
		qr.POST("/confirm", h.QRHandler.Confirm)
		qr.POST("/decline", h.QRHandler.Decline)
	}

	// ==================== Identity Hand-off ====================
	api.POST("/qr/exchange", h.ExchangeHandler.Exchange)
}
