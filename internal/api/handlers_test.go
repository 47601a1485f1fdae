package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Raywonder/flexpbx-mailer/internal/config"
	"github.com/Raywonder/flexpbx-mailer/internal/engine"
	"github.com/Raywonder/flexpbx-mailer/internal/models"
	"github.com/Raywonder/flexpbx-mailer/internal/render"
	"github.com/Raywonder/flexpbx-mailer/internal/store"
	"github.com/Raywonder/flexpbx-mailer/internal/transport"
)

type stubSender struct {
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, cfg *models.SMTPConfig, msg *transport.Message) error {
	s.calls++
	return s.err
}

type openLimiter struct{}

func (openLimiter) TryReserve(configID int64, limit int) bool { return true }

type apiEnv struct {
	server  *Server
	sender  *stubSender
	configs *store.ConfigRepository
}

func newAPIEnv(t *testing.T, apiKey string) *apiEnv {
	t.Helper()

	db, err := store.New(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	templates := store.NewTemplateRepository(db.DB)
	configs := store.NewConfigRepository(db.DB)
	sender := &stubSender{}

	eng := engine.New(engine.Deps{
		Configs:   configs,
		Templates: templates,
		Queue:     store.NewQueueRepository(db.DB),
		Logs:      store.NewLogRepository(db.DB),
		Renderer:  render.New(templates),
		Limiter:   openLimiter{},
		Sender:    sender,
		Logger:    logger,
	}, engine.Options{FailFastPermanent: true})

	ctx := context.Background()
	err = templates.Upsert(ctx, &models.Template{
		Key:     "welcome",
		Name:    "Welcome",
		Subject: "Welcome {{name}}",
		Text:    "Hi {{name}}",
		Active:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	server := NewServer(eng, &config.API{ListenAddr: ":0", APIKey: apiKey}, logger)
	return &apiEnv{server: server, sender: sender, configs: configs}
}

func (env *apiEnv) activateConfig(t *testing.T) {
	t.Helper()
	err := env.configs.Save(context.Background(), &models.SMTPConfig{
		Host:        "smtp.example.com",
		Port:        587,
		Security:    models.SecurityTLS,
		FromAddress: "noreply@example.com",
		MaxAttempts: 3,
		SendTimeout: 10 * time.Second,
		Active:      true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (env *apiEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestEnqueueEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	rec := env.request(t, "POST", "/api/v1/messages", EnqueueRequest{
		Template:  "welcome",
		Recipient: "alex@example.com",
		Variables: map[string]string{"name": "Alex"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[EnqueueResponse](t, rec)
	if resp.ID == "" || resp.Status != "queued" {
		t.Errorf("response = %+v", resp)
	}

	// The queued item is visible with aggregate metadata only.
	rec = env.request(t, "GET", "/api/v1/messages/"+resp.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	msg := decode[MessageResponse](t, rec)
	if msg.Recipient != "alex@example.com" || msg.Template != "welcome" {
		t.Errorf("message = %+v", msg)
	}
}

func TestEnqueueValidation(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	tests := []struct {
		name string
		req  EnqueueRequest
		code int
	}{
		{"missing template", EnqueueRequest{Recipient: "a@example.com"}, http.StatusBadRequest},
		{"missing recipient", EnqueueRequest{Template: "welcome"}, http.StatusBadRequest},
		{"bad recipient", EnqueueRequest{Template: "welcome", Recipient: "nope"}, http.StatusBadRequest},
		{"unknown template", EnqueueRequest{Template: "absent", Recipient: "a@example.com"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.request(t, "POST", "/api/v1/messages", tt.req)
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.code, rec.Body.String())
			}
		})
	}
}

func TestEnqueueWithoutActiveConfig(t *testing.T) {
	env := newAPIEnv(t, "")

	rec := env.request(t, "POST", "/api/v1/messages", EnqueueRequest{
		Template:  "welcome",
		Recipient: "alex@example.com",
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestTestSendEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	rec := env.request(t, "POST", "/api/v1/test-send", TestSendRequest{Recipient: "ops@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.sender.calls != 1 {
		t.Errorf("sender calls = %d, want 1", env.sender.calls)
	}
}

func TestTestSendReportsDeliveryFailure(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)
	env.sender.err = &transport.DeliveryError{Permanent: true, Message: "535 bad credentials"}

	rec := env.request(t, "POST", "/api/v1/test-send", TestSendRequest{Recipient: "ops@example.com"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502, body %s", rec.Code, rec.Body.String())
	}
}

func TestCycleAndSummaryEndpoints(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	env.request(t, "POST", "/api/v1/messages", EnqueueRequest{
		Template:  "welcome",
		Recipient: "alex@example.com",
	})

	rec := env.request(t, "POST", "/api/v1/cycle", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	res := decode[models.CycleResult](t, rec)
	if res.Processed != 1 || res.Sent != 1 {
		t.Errorf("cycle result = %+v", res)
	}

	rec = env.request(t, "GET", "/api/v1/queue/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	summary := decode[SummaryResponse](t, rec)
	if len(summary.Counts) != 1 || summary.Counts[0].Status != models.StatusSent {
		t.Errorf("summary = %+v", summary)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	rec := env.request(t, "GET", "/api/v1/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := decode[StatisticsResponse](t, rec)
	if stats.Days != 7 {
		t.Errorf("default days = %d, want 7", stats.Days)
	}

	rec = env.request(t, "GET", "/api/v1/statistics?days=30", nil)
	stats = decode[StatisticsResponse](t, rec)
	if stats.Days != 30 {
		t.Errorf("days = %d, want 30", stats.Days)
	}

	rec = env.request(t, "GET", "/api/v1/statistics?days=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetryFailedEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)
	env.sender.err = &transport.DeliveryError{Permanent: true, Message: "550 rejected"}

	env.request(t, "POST", "/api/v1/messages", EnqueueRequest{
		Template:  "welcome",
		Recipient: "alex@example.com",
	})
	env.request(t, "POST", "/api/v1/cycle", nil)

	rec := env.request(t, "POST", "/api/v1/queue/retry-failed", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[map[string]int64](t, rec)
	if resp["retried"] != 1 {
		t.Errorf("retried = %d, want 1", resp["retried"])
	}
}

func TestClearLogsEndpoint(t *testing.T) {
	env := newAPIEnv(t, "")
	env.activateConfig(t)

	rec := env.request(t, "DELETE", "/api/v1/logs?days=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[map[string]int64](t, rec)
	if resp["deleted"] != 0 {
		t.Errorf("deleted = %d, want 0", resp["deleted"])
	}

	rec = env.request(t, "DELETE", "/api/v1/logs?days=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newAPIEnv(t, "s3cret")
	env.activateConfig(t)

	rec := env.request(t, "GET", "/api/v1/queue/summary", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/queue/summary", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	out := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("status with bearer key = %d, want 200", out.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/queue/summary", nil)
	req.Header.Set("X-API-Key", "s3cret")
	out = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("status with X-API-Key = %d, want 200", out.Code)
	}

	// Health stays open.
	rec = env.request(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}
