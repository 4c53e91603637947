// internal/handlers/qr/qr_handler.go
package qr

import (
	"net/http"

	domain "qrlogin-service/internal/domain/qrsession"
	xerrors "qrlogin-service/internal/pkg/errors"
	"qrlogin-service/internal/pkg/ratelimit"
	"qrlogin-service/internal/pkg/response"
	qrUsecase "qrlogin-service/internal/service/qrsession"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type QRHandler struct {
	qrService *qrUsecase.Service
	limiter   *ratelimit.RateLimiter
	logger    *zap.Logger
}

func NewQRHandler(qrService *qrUsecase.Service, limiter *ratelimit.RateLimiter, logger *zap.Logger) *QRHandler {
	return &QRHandler{
		qrService: qrService,
		limiter:   limiter,
		logger:    logger,
	}
}

// ========== Web endpoints ==========

// Init creates a new login session and returns the QR payload.
func (h *QRHandler) Init(c *gin.Context) {
	var req domain.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	// Capture browser metadata server-side
	req.DeviceInfo.IPAddress = c.ClientIP()
	if req.DeviceInfo.UserAgent == "" {
		req.DeviceInfo.UserAgent = c.GetHeader("User-Agent")
	}

	if h.limiter != nil {
		allowed, _, err := h.limiter.CheckInitAttempt(c.Request.Context(), req.DeviceInfo.IPAddress)
		if err != nil {
			h.logger.Warn("init rate check failed", zap.Error(err))
		} else if !allowed {
			c.Header("Retry-After", "300")
			response.FromError(c, xerrors.ErrRateLimited)
			return
		}
	}

	resp, err := h.qrService.Init(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("qr init failed",
			zap.String("ip", req.DeviceInfo.IPAddress),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "qr session created", resp)
}

// Status polls the session state with the current nonce.
func (h *QRHandler) Status(c *gin.Context) {
	var req domain.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	if h.limiter != nil && req.SessionID != "" {
		allowed, err := h.limiter.CheckPollRate(c.Request.Context(), req.SessionID)
		if err != nil {
			h.logger.Warn("poll rate check failed", zap.Error(err))
		} else if !allowed {
			response.FromError(c, xerrors.ErrRateLimited)
			return
		}
	}

	resp, err := h.qrService.Status(c.Request.Context(), &req)
	if err != nil {
		// Nonce mismatches are security-relevant, the rest is routine
		if xerrors.Is(err, xerrors.ErrNonceMismatch) {
			h.logger.Warn("qr status rejected",
				zap.String("session_id", req.SessionID),
				zap.String("ip", c.ClientIP()),
				zap.Error(err),
			)
		}
		response.FromError(c, err)
		return
	}

	// A completed login clears the browser's init window
	if h.limiter != nil && resp.LoginTicket != "" {
		if err := h.limiter.ResetInitAttempts(c.Request.Context(), c.ClientIP()); err != nil {
			h.logger.Warn("failed to reset init attempts", zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, resp.Message, resp)
}

// Cancel aborts a pending session from the web side.
func (h *QRHandler) Cancel(c *gin.Context) {
	var req domain.CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	resp, err := h.qrService.Cancel(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp.Message, resp)
}

// ========== Mobile endpoints ==========

// Scan redeems a scanned QR payload.
func (h *QRHandler) Scan(c *gin.Context) {
	var req domain.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	req.DeviceInfo.IPAddress = c.ClientIP()
	if req.DeviceInfo.UserAgent == "" {
		req.DeviceInfo.UserAgent = c.GetHeader("User-Agent")
	}

	if h.limiter != nil {
		allowed, err := h.limiter.CheckScanAttempt(c.Request.Context(), req.DeviceInfo.IPAddress)
		if err != nil {
			h.logger.Warn("scan rate check failed", zap.Error(err))
		} else if !allowed {
			response.FromError(c, xerrors.ErrRateLimited)
			return
		}
	}

	resp, err := h.qrService.Scan(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("qr scan failed",
			zap.String("ip", req.DeviceInfo.IPAddress),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "qr code scanned", resp)
}

// Confirm finalizes the login from the mobile app.
func (h *QRHandler) Confirm(c *gin.Context) {
	var req domain.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	resp, err := h.qrService.Confirm(c.Request.Context(), &req)
	if err != nil {
		h.logger.Warn("qr confirm failed",
			zap.String("session_id", req.SessionID),
			zap.String("uid", req.Identity.UID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp.Message, resp)
}

// Decline rejects the login from the mobile app.
func (h *QRHandler) Decline(c *gin.Context) {
	var req domain.DeclineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request", err)
		return
	}

	resp, err := h.qrService.Decline(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, resp.Message, resp)
}
