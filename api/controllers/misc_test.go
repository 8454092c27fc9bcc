package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/pkg/config"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestLeaderboardParsesQuery(t *testing.T) {
	svc := &fakeLeaderboard{page: &leaderboard.Page{Entries: []leaderboard.Entry{}}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?limit=10&offset=20&asOf=2026-03-01T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	Leaderboard(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if svc.query.Limit != 10 || svc.query.Offset != 20 || !svc.query.AsOf.Equal(want) {
		t.Fatalf("unexpected query %+v", svc.query)
	}
}

func TestLeaderboardRejectsBadAsOf(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard?asOf=last-week", nil)
	resp := httptest.NewRecorder()
	Leaderboard(&fakeLeaderboard{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestFlameEndpoints(t *testing.T) {
	user := uuid.New()
	svc := &fakeFlameService{
		balance: 7,
		page: pagination.Page[models.FlameLedgerEntry]{
			Items:      []models.FlameLedgerEntry{{ID: uuid.New(), Amount: 1, BalanceAfter: 7, Reason: "battle vote"}},
			NextCursor: "next",
		},
	}

	resp := httptest.NewRecorder()
	FlameBalance(svc, testLogger())(resp, asUser(httptest.NewRequest(http.MethodGet, "/", nil), user, enums.RoleUser))
	var balance map[string]int64
	if err := json.Unmarshal(decodeEnvelope(t, resp).Data, &balance); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if balance["balance"] != 7 {
		t.Fatalf("unexpected balance %v", balance)
	}

	resp = httptest.NewRecorder()
	FlameEntries(svc, testLogger())(resp, asUser(httptest.NewRequest(http.MethodGet, "/?limit=5&cursor=abc", nil), user, enums.RoleUser))
	if svc.params.Limit != 5 || svc.params.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.params)
	}
	var page ledgerPageView
	if err := json.Unmarshal(decodeEnvelope(t, resp).Data, &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	resp := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), stubPinger{}, stubPinger{err: errors.New("down")})(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestPingEchoesCaller(t *testing.T) {
	user := uuid.New()
	resp := httptest.NewRecorder()
	Ping("admin")(resp, asUser(httptest.NewRequest(http.MethodGet, "/", nil), user, enums.RoleAdmin))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), user.String()) || !strings.Contains(resp.Body.String(), `"scope":"admin"`) {
		t.Fatalf("unexpected ping body %s", resp.Body.String())
	}

	anonymous := httptest.NewRecorder()
	Ping("public")(anonymous, httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Contains(anonymous.Body.String(), "userId") {
		t.Fatalf("anonymous ping should not carry a user: %s", anonymous.Body.String())
	}
}
