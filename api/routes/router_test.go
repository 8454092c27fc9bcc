package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/internal/votes"
	pkgAuth "github.com/beatdrop/battles-backend/pkg/auth"
	"github.com/beatdrop/battles-backend/pkg/config"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/pagination"
	pkgredis "github.com/beatdrop/battles-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubBattleService struct {
	closed int
}

func (s *stubBattleService) Create(context.Context, battles.CreateInput) (*models.Battle, error) {
	return &models.Battle{ID: uuid.New(), Status: enums.BattleStatusOpen}, nil
}

func (s *stubBattleService) Accept(context.Context, battles.AcceptInput) (*models.Battle, error) {
	return &models.Battle{ID: uuid.New(), Status: enums.BattleStatusActive}, nil
}

func (s *stubBattleService) CloseIfExpired(_ context.Context, id uuid.UUID) (*models.Battle, error) {
	return &models.Battle{ID: id, Status: enums.BattleStatusOpen}, nil
}

func (s *stubBattleService) Get(_ context.Context, id uuid.UUID) (*models.Battle, error) {
	return &models.Battle{ID: id, Status: enums.BattleStatusOpen}, nil
}

func (s *stubBattleService) List(_ context.Context, filter battles.ListFilter) (*battles.ListResult, error) {
	return &battles.ListResult{Items: []models.Battle{}, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *stubBattleService) ForceClose(_ context.Context, id uuid.UUID, _ outbox.ActorRef) (*models.Battle, error) {
	s.closed++
	return &models.Battle{ID: id, Status: enums.BattleStatusClosed}, nil
}

func (s *stubBattleService) Cancel(_ context.Context, id uuid.UUID, _ outbox.ActorRef) (*battles.CancelResult, error) {
	return &battles.CancelResult{Battle: &models.Battle{ID: id, Status: enums.BattleStatusClosed}}, nil
}

func (s *stubBattleService) SweepExpired(context.Context, int) (int, error) {
	return 0, nil
}

type stubVoteService struct{}

func (stubVoteService) CastOrChange(context.Context, votes.CastInput) (*votes.CastResult, error) {
	return &votes.CastResult{Tallies: votes.Tallies{ChallengerVotes: 1}, Result: votes.ResultCast}, nil
}

func (stubVoteService) HasVoted(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (stubVoteService) VoteFor(context.Context, uuid.UUID, uuid.UUID) (*models.Vote, error) {
	return nil, nil
}

type stubFlameService struct{}

func (stubFlameService) Debit(context.Context, *gorm.DB, flames.Input) (*flames.Receipt, error) {
	return nil, nil
}

func (stubFlameService) Credit(_ context.Context, _ *gorm.DB, input flames.Input) (*flames.Receipt, error) {
	return &flames.Receipt{Entry: models.FlameLedgerEntry{ID: uuid.New(), UserID: input.UserID, Amount: input.Amount}}, nil
}

func (stubFlameService) Balance(context.Context, uuid.UUID) (int64, error) {
	return 3, nil
}

func (stubFlameService) Entries(context.Context, uuid.UUID, pagination.Params) (pagination.Page[models.FlameLedgerEntry], error) {
	return pagination.Page[models.FlameLedgerEntry]{}, nil
}

func (stubFlameService) Refund(context.Context, *gorm.DB, uuid.UUID, uuid.UUID, *outbox.ActorRef) (*flames.Receipt, error) {
	return nil, nil
}

type stubLeaderboard struct{}

func (stubLeaderboard) ComputeStandings(context.Context, time.Time) ([]leaderboard.Entry, error) {
	return nil, nil
}

func (stubLeaderboard) Page(context.Context, leaderboard.Query) (*leaderboard.Page, error) {
	return &leaderboard.Page{Entries: []leaderboard.Entry{}}, nil
}

// denyingRedis refuses every rate-limit window and stores nothing.
type denyingRedis struct{}

func (denyingRedis) Get(context.Context, string) (string, error) { return "", nil }
func (denyingRedis) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return true, nil
}
func (denyingRedis) Set(context.Context, string, any, time.Duration) error { return nil }
func (denyingRedis) IdempotencyKey(scope, id string) string                 { return scope + ":" + id }
func (denyingRedis) Del(context.Context, ...string) error                   { return nil }
func (denyingRedis) Ping(context.Context) error                             { return nil }
func (denyingRedis) FixedWindowAllow(context.Context, string, int64, time.Duration) (pkgredis.RateDecision, error) {
	return pkgredis.RateDecision{Allowed: false, Count: 30, ResetIn: 12 * time.Second}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
		Votes: config.VotesConfig{
			RateLimitWindow: time.Minute,
			RateLimitUser:   5,
			RateLimitIP:     50,
		},
	}
}

func newTestRouter(cfg *config.Config, redisClient RedisClient, battleService *stubBattleService) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		redisClient,
		nil,
		battleService,
		stubVoteService{},
		stubFlameService{},
		stubLeaderboard{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.Role) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestHealthAndPing(t *testing.T) {
	router := newTestRouter(testConfig(), nil, &stubBattleService{})
	for _, path := range []string{"/health/live", "/health/ready", "/api/public/ping"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestPublicReadsAllowAnonymous(t *testing.T) {
	router := newTestRouter(testConfig(), nil, &stubBattleService{})
	for _, path := range []string{"/api/v1/battles", "/api/v1/battles/" + uuid.NewString(), "/api/v1/leaderboard"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestPublicReadsRejectBadToken(t *testing.T) {
	router := newTestRouter(testConfig(), nil, &stubBattleService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/battles", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token got %d", resp.Code)
	}
}

func TestWritesRequireJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, nil, &stubBattleService{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/flames/balance", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flames/balance", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 with token got %d", resp.Code)
	}
}

func TestAdminGroupRequiresAdminRole(t *testing.T) {
	cfg := testConfig()
	battleService := &stubBattleService{}
	router := newTestRouter(cfg, nil, battleService)
	path := "/api/admin/v1/battles/" + uuid.NewString() + "/close"

	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin got %d: %s", resp.Code, resp.Body.String())
	}
	if battleService.closed != 1 {
		t.Fatalf("expected one force close, got %d", battleService.closed)
	}
}

func TestVoteRouteIsRateLimited(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, denyingRedis{}, &stubBattleService{})

	body := `{"participantChoice":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/battles/"+uuid.NewString()+"/vote", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestCreateBattleRequiresIdempotencyKey(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, denyingRedis{}, &stubBattleService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/battles", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleUser))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without Idempotency-Key got %d", resp.Code)
	}
}
