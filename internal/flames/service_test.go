package flames

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/pkg/db/dbtest"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/pagination"
)

type fixture struct {
	svc  Service
	conn *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		TX:     client,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Logger: logg,
	})
	require.NoError(t, err)
	return fixture{svc: svc, conn: conn}
}

func (f fixture) entryCount(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.FlameLedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error)
	return count
}

func TestDebitChargesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	dbtest.SeedBalance(t, f.conn, user, 3)

	input := Input{UserID: user, Amount: 1, IdempotencyKey: VoteKey(uuid.New(), user), Reason: "vote"}
	receipt, err := f.svc.Debit(ctx, nil, input)
	require.NoError(t, err)
	assert.False(t, receipt.Replayed)
	assert.Equal(t, int64(2), receipt.Entry.BalanceAfter)

	replay, err := f.svc.Debit(ctx, nil, input)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, receipt.Entry.ID, replay.Entry.ID)

	balance, err := f.svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
	assert.Equal(t, int64(1), f.entryCount(t, user))
}

func TestDebitKeyReuseWithDifferentAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	dbtest.SeedBalance(t, f.conn, user, 5)

	_, err := f.svc.Debit(ctx, nil, Input{UserID: user, Amount: 1, IdempotencyKey: "k-1"})
	require.NoError(t, err)

	_, err = f.svc.Debit(ctx, nil, Input{UserID: user, Amount: 2, IdempotencyKey: "k-1"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))

	_, err = f.svc.Credit(ctx, nil, Input{UserID: user, Amount: 1, IdempotencyKey: "k-1"})
	assert.Equal(t, pkgerrors.CodeIdempotency, pkgerrors.CodeOf(err))
}

func TestDebitInsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	broke := uuid.New()
	dbtest.SeedBalance(t, f.conn, broke, 0)

	_, err := f.svc.Debit(ctx, nil, Input{UserID: broke, Amount: 1, IdempotencyKey: "vote:x"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, pkgerrors.CodeOf(err))
	assert.Equal(t, int64(0), f.entryCount(t, broke))

	stranger := uuid.New()
	_, err = f.svc.Debit(ctx, nil, Input{UserID: stranger, Amount: 1, IdempotencyKey: "vote:y"})
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, pkgerrors.CodeOf(err))

	balance, err := f.svc.Balance(ctx, broke)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestCreditCreatesAndAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	first, err := f.svc.Credit(ctx, nil, Input{UserID: user, Amount: 5, IdempotencyKey: "grant-1", Reason: "welcome"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), first.Entry.BalanceAfter)

	second, err := f.svc.Credit(ctx, nil, Input{UserID: user, Amount: 2, IdempotencyKey: "grant-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), second.Entry.BalanceAfter)
	assert.Equal(t, defaultReason, second.Entry.Reason)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", user).Count(&events).Error)
	assert.Equal(t, int64(2), events)
}

func TestDebitJoinsCallerTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	dbtest.SeedBalance(t, f.conn, user, 1)

	sentinel := errors.New("vote insert failed")
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		if _, err := f.svc.Debit(ctx, tx, Input{UserID: user, Amount: 1, IdempotencyKey: "vote:rollback"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	balance, err := f.svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)
	assert.Equal(t, int64(0), f.entryCount(t, user))
}

func TestEntriesPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	logg := logger.New(logger.Options{Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(f.conn),
		TX:     dbtestClient{conn: f.conn},
		Outbox: outbox.NewService(outbox.NewRepository(f.conn), logg),
		Logger: logg,
		Now: func() time.Time {
			step++
			return base.Add(time.Duration(step) * time.Minute)
		},
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Credit(ctx, nil, Input{UserID: user, Amount: 1, IdempotencyKey: uuid.NewString()})
		require.NoError(t, err)
	}

	page, err := svc.Entries(ctx, user, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, int64(3), page.Items[0].BalanceAfter)

	rest, err := svc.Entries(ctx, user, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	assert.Empty(t, rest.NextCursor)
	assert.Equal(t, int64(1), rest.Items[0].BalanceAfter)
}

func TestRefundReturnsVoteChargeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	battle := uuid.New()
	voter := uuid.New()
	dbtest.SeedBalance(t, f.conn, voter, 4)

	_, err := f.svc.Debit(ctx, nil, Input{UserID: voter, Amount: 2, IdempotencyKey: VoteKey(battle, voter)})
	require.NoError(t, err)

	receipt, err := f.svc.Refund(ctx, nil, battle, voter, nil)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, int64(2), receipt.Entry.Amount)
	assert.Equal(t, RefundKey(battle, voter), receipt.Entry.IdempotencyKey)

	again, err := f.svc.Refund(ctx, nil, battle, voter, nil)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	balance, err := f.svc.Balance(ctx, voter)
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	none, err := f.svc.Refund(ctx, nil, uuid.New(), voter, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []Input{
		{Amount: 1, IdempotencyKey: "k"},
		{UserID: uuid.New(), Amount: 0, IdempotencyKey: "k"},
		{UserID: uuid.New(), Amount: 1, IdempotencyKey: "   "},
	}
	for _, input := range cases {
		_, err := f.svc.Debit(ctx, nil, input)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	}
	_, err := f.svc.Balance(ctx, uuid.Nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}

type dbtestClient struct {
	conn *gorm.DB
}

func (c dbtestClient) WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
