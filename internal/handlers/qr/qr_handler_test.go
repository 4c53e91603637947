package qr

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "qrlogin-service/internal/domain/qrsession"
	"qrlogin-service/internal/pkg/jwt"
	"qrlogin-service/internal/pkg/qrcode"
	"qrlogin-service/internal/repository/memory"
	qrUsecase "qrlogin-service/internal/service/qrsession"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewQRSessionRepository(5 * time.Minute)
	sealer, err := qrcode.NewSealer("test-secret", 90*time.Second)
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	jwtm, err := jwt.LoadAndBuild(jwt.Config{
		Issuer:   "qrlogin-test",
		Audience: "identity-test",
		TTL:      2 * time.Minute,
		KID:      "test-key",
	})
	if err != nil {
		t.Fatalf("LoadAndBuild: %v", err)
	}

	svc := qrUsecase.NewService(store, sealer, jwtm, nil, nil, nil, zap.NewNop(), qrUsecase.Config{})
	h := NewQRHandler(svc, nil, zap.NewNop())

	r := gin.New()
	api := r.Group("/api/v1/qr")
	api.POST("/init", h.Init)
	api.POST("/status", h.Status)
	api.POST("/cancel", h.Cancel)
	api.POST("/scan", h.Scan)
	api.POST("/confirm", h.Confirm)
	api.POST("/decline", h.Decline)
	return r
}

func doPost(t *testing.T, r *gin.Engine, path string, body interface{}) (*httptest.ResponseRecorder, *apiEnvelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env apiEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return w, &env
}

func decodeData(t *testing.T, env *apiEnvelope, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestFullLoginFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	// init
	w, env := doPost(t, r, "/api/v1/qr/init", domain.InitRequest{Type: "multi"})
	if w.Code != http.StatusCreated || !env.Success {
		t.Fatalf("init: %d %s", w.Code, w.Body.String())
	}
	var initResp domain.InitResponse
	decodeData(t, env, &initResp)

	// first poll: still waiting, nonce rotated
	w, env = doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: initResp.SessionID, Nonce: initResp.Nonce})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var poll1 domain.StatusResponse
	decodeData(t, env, &poll1)
	if poll1.Status != domain.StatusWaiting || poll1.Nonce == initResp.Nonce {
		t.Fatalf("poll1 = %+v", poll1)
	}

	// mobile scans
	w, env = doPost(t, r, "/api/v1/qr/scan", domain.ScanRequest{QRData: initResp.QRData})
	if w.Code != http.StatusOK {
		t.Fatalf("scan: %d %s", w.Code, w.Body.String())
	}
	var scanResp domain.ScanResponse
	decodeData(t, env, &scanResp)
	if scanResp.Status != domain.StatusScanned || scanResp.ConfirmNonce == "" {
		t.Fatalf("scan = %+v", scanResp)
	}

	// mobile confirms
	w, env = doPost(t, r, "/api/v1/qr/confirm", domain.ConfirmRequest{
		SessionID:    scanResp.SessionID,
		ConfirmNonce: scanResp.ConfirmNonce,
		Identity:     domain.ScanningIdentity{UID: "user-1", DisplayName: "Test User"},
		GrantedRoles: []string{"parent"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: %d %s", w.Code, w.Body.String())
	}

	// web polls and receives the one-time ticket
	w, env = doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: initResp.SessionID, Nonce: poll1.Nonce})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var poll2 domain.StatusResponse
	decodeData(t, env, &poll2)
	if poll2.Status != domain.StatusConfirmed || poll2.LoginTicket == "" || poll2.UserInfo == nil {
		t.Fatalf("poll2 = %+v", poll2)
	}

	// the ticket is not handed out again
	w, env = doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: initResp.SessionID, Nonce: poll2.Nonce})
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
	var poll3 domain.StatusResponse
	decodeData(t, env, &poll3)
	if poll3.LoginTicket != "" {
		t.Error("ticket handed out twice over HTTP")
	}
}

func TestStatusWithStaleNonceIsConflict(t *testing.T) {
	r := newTestRouter(t)

	_, env := doPost(t, r, "/api/v1/qr/init", domain.InitRequest{Type: "multi"})
	var initResp domain.InitResponse
	decodeData(t, env, &initResp)

	doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: initResp.SessionID, Nonce: initResp.Nonce})

	// Replay the original nonce
	w, env := doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: initResp.SessionID, Nonce: initResp.Nonce})
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
	if env.Error == nil || env.Error.Code != "INVALID_NONCE" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestStatusUnknownSessionIsNotFound(t *testing.T) {
	r := newTestRouter(t)
	w, env := doPost(t, r, "/api/v1/qr/status", domain.StatusRequest{SessionID: "missing", Nonce: "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
	if env.Error == nil || env.Error.Code != "SESSION_NOT_FOUND" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestScanGarbagePayloadIsBadRequest(t *testing.T) {
	r := newTestRouter(t)
	w, env := doPost(t, r, "/api/v1/qr/scan", domain.ScanRequest{QRData: "garbage"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	if env.Error == nil || env.Error.Code != "INVALID_QR_CODE" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestConfirmAfterCancelIsConflict(t *testing.T) {
	r := newTestRouter(t)

	_, env := doPost(t, r, "/api/v1/qr/init", domain.InitRequest{Type: "multi"})
	var initResp domain.InitResponse
	decodeData(t, env, &initResp)

	_, env = doPost(t, r, "/api/v1/qr/scan", domain.ScanRequest{QRData: initResp.QRData})
	var scanResp domain.ScanResponse
	decodeData(t, env, &scanResp)

	w, _ := doPost(t, r, "/api/v1/qr/cancel", domain.CancelRequest{SessionID: initResp.SessionID})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d", w.Code)
	}

	w, env = doPost(t, r, "/api/v1/qr/confirm", domain.ConfirmRequest{
		SessionID:    scanResp.SessionID,
		ConfirmNonce: scanResp.ConfirmNonce,
		Identity:     domain.ScanningIdentity{UID: "user-1"},
		GrantedRoles: []string{"parent"},
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
	if env.Error == nil || env.Error.Code != "ALREADY_FINALIZED" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestDeclineEndsSession(t *testing.T) {
	r := newTestRouter(t)

	_, env := doPost(t, r, "/api/v1/qr/init", domain.InitRequest{Type: "multi"})
	var initResp domain.InitResponse
	decodeData(t, env, &initResp)

	_, env = doPost(t, r, "/api/v1/qr/scan", domain.ScanRequest{QRData: initResp.QRData})
	var scanResp domain.ScanResponse
	decodeData(t, env, &scanResp)

	w, env := doPost(t, r, "/api/v1/qr/decline", domain.DeclineRequest{SessionID: scanResp.SessionID})
	if w.Code != http.StatusOK {
		t.Fatalf("decline: %d %s", w.Code, w.Body.String())
	}
	var resp domain.CancelResponse
	decodeData(t, env, &resp)
	if resp.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want cancelled", resp.Status)
	}
}
