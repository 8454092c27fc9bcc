package controllers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/api/middleware"
	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/internal/votes"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func addRouteParam(r *http.Request, key, value string) *http.Request {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		rc = chi.NewRouteContext()
	}
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func asUser(r *http.Request, userID uuid.UUID, role enums.Role) *http.Request {
	return r.WithContext(middleware.WithIdentity(r.Context(), middleware.Identity{UserID: userID, Role: role}))
}

type fakeBattleService struct {
	createFn     func(ctx context.Context, input battles.CreateInput) (*models.Battle, error)
	acceptFn     func(ctx context.Context, input battles.AcceptInput) (*models.Battle, error)
	getFn        func(ctx context.Context, id uuid.UUID) (*models.Battle, error)
	listFn       func(ctx context.Context, filter battles.ListFilter) (*battles.ListResult, error)
	forceCloseFn func(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*models.Battle, error)
	cancelFn     func(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*battles.CancelResult, error)
}

func (f *fakeBattleService) Create(ctx context.Context, input battles.CreateInput) (*models.Battle, error) {
	return f.createFn(ctx, input)
}

func (f *fakeBattleService) Accept(ctx context.Context, input battles.AcceptInput) (*models.Battle, error) {
	return f.acceptFn(ctx, input)
}

func (f *fakeBattleService) CloseIfExpired(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	return f.getFn(ctx, id)
}

func (f *fakeBattleService) Get(ctx context.Context, id uuid.UUID) (*models.Battle, error) {
	return f.getFn(ctx, id)
}

func (f *fakeBattleService) List(ctx context.Context, filter battles.ListFilter) (*battles.ListResult, error) {
	return f.listFn(ctx, filter)
}

func (f *fakeBattleService) ForceClose(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*models.Battle, error) {
	return f.forceCloseFn(ctx, id, actor)
}

func (f *fakeBattleService) Cancel(ctx context.Context, id uuid.UUID, actor outbox.ActorRef) (*battles.CancelResult, error) {
	return f.cancelFn(ctx, id, actor)
}

func (f *fakeBattleService) SweepExpired(context.Context, int) (int, error) {
	return 0, nil
}

type fakeVoteService struct {
	castFn   func(ctx context.Context, input votes.CastInput) (*votes.CastResult, error)
	voted    map[uuid.UUID]bool
	voteFor  *models.Vote
	hasCalls int
}

func (f *fakeVoteService) CastOrChange(ctx context.Context, input votes.CastInput) (*votes.CastResult, error) {
	return f.castFn(ctx, input)
}

func (f *fakeVoteService) HasVoted(_ context.Context, battleID, _ uuid.UUID) (bool, error) {
	f.hasCalls++
	return f.voted[battleID], nil
}

func (f *fakeVoteService) VoteFor(context.Context, uuid.UUID, uuid.UUID) (*models.Vote, error) {
	return f.voteFor, nil
}

type fakeFlameService struct {
	creditFn func(ctx context.Context, input flames.Input) (*flames.Receipt, error)
	balance  int64
	page     pagination.Page[models.FlameLedgerEntry]
	params   pagination.Params
}

func (f *fakeFlameService) Debit(context.Context, *gorm.DB, flames.Input) (*flames.Receipt, error) {
	return nil, nil
}

func (f *fakeFlameService) Credit(ctx context.Context, _ *gorm.DB, input flames.Input) (*flames.Receipt, error) {
	return f.creditFn(ctx, input)
}

func (f *fakeFlameService) Balance(context.Context, uuid.UUID) (int64, error) {
	return f.balance, nil
}

func (f *fakeFlameService) Entries(_ context.Context, _ uuid.UUID, params pagination.Params) (pagination.Page[models.FlameLedgerEntry], error) {
	f.params = params
	return f.page, nil
}

func (f *fakeFlameService) Refund(context.Context, *gorm.DB, uuid.UUID, uuid.UUID, *outbox.ActorRef) (*flames.Receipt, error) {
	return nil, nil
}

type fakeLeaderboard struct {
	query leaderboard.Query
	page  *leaderboard.Page
}

func (f *fakeLeaderboard) ComputeStandings(context.Context, time.Time) ([]leaderboard.Entry, error) {
	return nil, nil
}

func (f *fakeLeaderboard) Page(_ context.Context, query leaderboard.Query) (*leaderboard.Page, error) {
	f.query = query
	return f.page, nil
}
