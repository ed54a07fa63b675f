package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/circlepot/rosca-service/internal/app"
	"github.com/circlepot/rosca-service/internal/domain"
)

const (
	testSecret = "test-secret"

	owner  domain.Address = "owner"
	alice  domain.Address = "alice"
	bob    domain.Address = "bob"
	engine domain.Address = "circle-engine"
)

type limiterStub struct {
	count      int
	retryAfter int
	err        error
	calls      int
}

func (l *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, l.retryAfter, l.err
}

type testServer struct {
	handler http.Handler
	bank    *app.MemoryBank
}

func newTestServer(t *testing.T, limiter RateLimiter, devDeposits bool) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	bank := app.NewMemoryBank()
	for _, addr := range []domain.Address{alice, bob} {
		if err := bank.Deposit(ctx, addr, 10_000); err != nil {
			t.Fatalf("failed to fund %s: %v", addr, err)
		}
	}
	reputation := app.NewReputationService(owner, app.DefaultReputationDeltas(), nil, nil, logger)
	if err := reputation.Authorize(ctx, owner, engine); err != nil {
		t.Fatalf("failed to authorize engine: %v", err)
	}
	policy := app.DefaultPolicy()
	policy.MinContribution = 1
	policy.MinMembers = 2
	policy.VotingDelay = 0
	circles := app.NewCircleService(app.CircleServiceConfig{
		Address: engine,
		Owner:   owner,
		Policy:  policy,
	}, app.NewCustodyLedger(bank, "circle-custody"), reputation, nil, nil, nil, logger)
	goals := app.NewGoalService(app.GoalServiceConfig{
		Address:  "goal-engine",
		Owner:    owner,
		Treasury: "treasury",
	}, app.NewCustodyLedger(bank, "goal-custody"), reputation, nil, nil, nil, logger)

	h := NewHandlers(HandlersConfig{
		Circles:            circles,
		Goals:              goals,
		Reputation:         reputation,
		Bank:               bank,
		Owner:              owner,
		CurrencyDecimals:   2,
		DevDepositsEnabled: devDeposits,
		Logger:             logger,
	})
	return &testServer{
		handler: NewRouter(h, RouterConfig{
			JWTSecret:          testSecret,
			Limiter:            limiter,
			RateLimitPerMinute: 1,
			Logger:             logger,
		}),
		bank: bank,
	}
}

func tokenFor(t *testing.T, addr domain.Address) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": string(addr)}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (s *testServer) do(t *testing.T, method, path string, caller domain.Address, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, caller))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t, nil, false)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "healthy" {
		t.Fatalf("expected 200 healthy, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthMiddlewareRejectsBadCredentials(t *testing.T) {
	s := newTestServer(t, nil, false)
	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "  "}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "missing header", header: "", want: "Authorization header required"},
		{name: "not bearer", header: "Token abc", want: "Invalid Authorization header format"},
		{name: "garbage token", header: "Bearer not-a-jwt", want: "Invalid token"},
		{name: "wrong key", header: "Bearer " + wrongKey, want: "Invalid token"},
		{name: "blank subject", header: "Bearer " + noSubject, want: "Address not found in token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/circles", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] != tt.want {
				t.Fatalf("expected error %q, got %q", tt.want, body["error"])
			}
		})
	}
}

func TestCircleCreateJoinAndGet(t *testing.T) {
	s := newTestServer(t, nil, false)

	rec := s.do(t, http.MethodPost, "/circles", alice, map[string]interface{}{
		"name":                "book club",
		"contribution_amount": "1.00",
		"frequency":           "weekly",
		"max_members":         3,
		"visibility":          "public",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Circle
	decodeBody(t, rec, &created)
	if created.ContributionAmount != 100 || created.Frequency != domain.FrequencyWeekly || created.Visibility != domain.VisibilityPublic {
		t.Fatalf("unexpected circle %+v", created)
	}

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/circles/%d/join", created.ID), bob, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on join, got %d: %s", rec.Code, rec.Body.String())
	}
	var member domain.Member
	decodeBody(t, rec, &member)
	if member.Address != bob || member.CollateralLocked != 200 {
		t.Fatalf("expected bob to lock 200, got %+v", member)
	}

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/circles/%d", created.ID), alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var fetched domain.Circle
	decodeBody(t, rec, &fetched)
	if fetched.CurrentMembers != 2 || fetched.State != domain.CircleCreated {
		t.Fatalf("expected 2 members in an enrolling circle, got %+v", fetched)
	}

	rec = s.do(t, http.MethodGet, "/balance", bob, nil)
	var balance balanceResponse
	decodeBody(t, rec, &balance)
	if balance.Balance != 9_800 || balance.Formatted != "98.00" {
		t.Fatalf("expected 9800 (98.00) after locking collateral, got %+v", balance)
	}
}

func TestCreateCircleRejectsBadInput(t *testing.T) {
	s := newTestServer(t, nil, false)

	tests := []struct {
		name     string
		body     map[string]interface{}
		wantCode string
	}{
		{name: "bad amount", body: map[string]interface{}{"contribution_amount": "1.001", "frequency": "WEEKLY", "max_members": 3}},
		{name: "bad frequency", body: map[string]interface{}{"contribution_amount": "1", "frequency": "HOURLY", "max_members": 3}, wantCode: "INVALID_FREQUENCY"},
		{name: "bad visibility", body: map[string]interface{}{"contribution_amount": "1", "frequency": "DAILY", "max_members": 3, "visibility": "secret"}, wantCode: "INVALID_VISIBILITY"},
		{name: "too few members", body: map[string]interface{}{"contribution_amount": "1", "frequency": "DAILY", "max_members": 1}, wantCode: "INVALID_MEMBER_COUNT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/circles", alice, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["code"] != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, body["code"])
			}
		})
	}
}

func TestCircleLookupErrors(t *testing.T) {
	s := newTestServer(t, nil, false)

	rec := s.do(t, http.MethodGet, "/circles/42", alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]string
	decodeBody(t, rec, &body)
	if body["code"] != "CIRCLE_NOT_FOUND" {
		t.Fatalf("expected CIRCLE_NOT_FOUND, got %q", body["code"])
	}

	if rec := s.do(t, http.MethodGet, "/circles/abc", alice, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/circles/1/contributions?round=0", alice, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for round 0, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireOwner(t *testing.T) {
	s := newTestServer(t, nil, false)

	rec := s.do(t, http.MethodPost, "/admin/keepers", alice, map[string]string{"address": "keeper"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-owner, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/admin/reputation-callers", owner, map[string]string{"address": "Goal-Engine"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for the owner, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/admin/reputation-callers", owner, nil)
	var callers []domain.Address
	decodeBody(t, rec, &callers)
	if len(callers) != 2 || callers[0] != engine || callers[1] != "goal-engine" {
		t.Fatalf("expected sorted callers [circle-engine goal-engine], got %v", callers)
	}
}

func TestDepositsFollowDevFlag(t *testing.T) {
	disabled := newTestServer(t, nil, false)
	if rec := disabled.do(t, http.MethodPost, "/admin/deposits", owner, map[string]string{"address": "carol", "amount": "5"}); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with deposits disabled, got %d", rec.Code)
	}

	enabled := newTestServer(t, nil, true)
	rec := enabled.do(t, http.MethodPost, "/admin/deposits", owner, map[string]string{"address": "Carol", "amount": "5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var balance balanceResponse
	decodeBody(t, rec, &balance)
	if balance.Address != "carol" || balance.Balance != 500 || balance.Formatted != "5.00" {
		t.Fatalf("unexpected deposit response %+v", balance)
	}
}

func TestReputationEndpoint(t *testing.T) {
	s := newTestServer(t, nil, false)

	rec := s.do(t, http.MethodGet, "/reputation/Alice", bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var rep domain.Reputation
	decodeBody(t, rec, &rep)
	if rep.Address != alice || rep.Score != 250 || rep.Tier != domain.TierBronze {
		t.Fatalf("expected default bronze reputation for alice, got %+v", rep)
	}
	if rec := s.do(t, http.MethodGet, "/reputation/alice/history?limit=-1", bob, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("over the limit", func(t *testing.T) {
		limiter := &limiterStub{count: 2, retryAfter: 17}
		s := newTestServer(t, limiter, false)
		rec := s.do(t, http.MethodPost, "/circles", alice, map[string]interface{}{})
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "17" {
			t.Fatalf("expected Retry-After 17, got %q", got)
		}
	})

	t.Run("reads are not counted", func(t *testing.T) {
		limiter := &limiterStub{count: 2, retryAfter: 17}
		s := newTestServer(t, limiter, false)
		if rec := s.do(t, http.MethodGet, "/circles", alice, nil); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if limiter.calls != 0 {
			t.Fatalf("expected no limiter calls for a read, got %d", limiter.calls)
		}
	})

	t.Run("limiter failure allows the request", func(t *testing.T) {
		limiter := &limiterStub{err: errors.New("redis unavailable")}
		s := newTestServer(t, limiter, false)
		rec := s.do(t, http.MethodPost, "/circles/7/contributions", alice, nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected the request to reach the handler and 404, got %d", rec.Code)
		}
		if limiter.calls != 1 {
			t.Fatalf("expected one limiter call, got %d", limiter.calls)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrInvalidFrequency, want: http.StatusBadRequest},
		{err: domain.ErrCircleFull, want: http.StatusConflict},
		{err: domain.ErrNotCreator, want: http.StatusForbidden},
		{err: domain.ErrGoalNotFound, want: http.StatusNotFound},
		{err: fmt.Errorf("lock collateral: %w", domain.ErrInsufficientBalance), want: http.StatusPaymentRequired},
		{err: domain.ErrTransferFailed, want: http.StatusBadGateway},
		{err: errors.New("disk full"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	h := NewHandlers(HandlersConfig{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	rec := httptest.NewRecorder()
	h.writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/circles", nil), "list_circles", errors.New("pq: connection refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("expected the cause to be hidden, got %s", rec.Body.String())
	}
}
