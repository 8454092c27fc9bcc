package leaderboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/users"
	"github.com/beatdrop/battles-backend/pkg/db/dbtest"
	"github.com/beatdrop/battles-backend/pkg/db/models"
	"github.com/beatdrop/battles-backend/pkg/enums"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/redis"
)

type memoryCache struct {
	mu      sync.Mutex
	values  map[string]string
	failGet bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]string{}}
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", errors.New("connection refused")
	}
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	return nil
}

func (m *memoryCache) CacheKey(parts ...string) string {
	key := "bd:cache"
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

type serviceFixture struct {
	svc   Service
	conn  *gorm.DB
	cache *memoryCache
	reg   *prometheus.Registry
	now   time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	conn := dbtest.Open(t)
	f := &serviceFixture{
		conn:  conn,
		cache: newMemoryCache(),
		reg:   prometheus.NewRegistry(),
		now:   time.Date(2025, 4, 1, 12, 0, 30, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Battles: battles.NewRepository(conn),
		Users:   users.NewRepository(conn),
		Cache:   f.cache,
		Metrics: metrics.NewBattleMetrics(f.reg),
		Logger:  logger.New(logger.Options{Output: io.Discard}),
		Now:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *serviceFixture) seedClosed(t *testing.T, challenger, opponent uuid.UUID, cVotes, oVotes int64, closedAt time.Time) models.Battle {
	t.Helper()
	battle := closedBattle(challenger, opponent, cVotes, oVotes)
	beat := dbtest.SeedBeat(t, f.conn, challenger)
	battle.Title = "seeded"
	battle.BeatID = beat.ID
	battle.ChallengerEntryRef = "audio://seed"
	battle.ClosedAt = &closedAt
	battle.CreatedAt = closedAt.Add(-time.Hour)
	battle.UpdatedAt = closedAt
	require.NoError(t, f.conn.Create(&battle).Error)
	return battle
}

func (f *serviceFixture) cacheCount(t *testing.T, result string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "beatdrop_leaderboard_cache_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestComputeStandingsFromDatabase(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	a := dbtest.SeedUser(t, f.conn, "a", f.now.Add(-72*time.Hour))
	b := dbtest.SeedUser(t, f.conn, "b", f.now.Add(-48*time.Hour))
	c := dbtest.SeedUser(t, f.conn, "c", f.now.Add(-24*time.Hour))

	f.seedClosed(t, a.ID, b.ID, 5, 3, f.now.Add(-2*time.Hour))
	f.seedClosed(t, c.ID, a.ID, 1, 1, f.now.Add(-time.Hour))
	f.seedClosed(t, b.ID, c.ID, 0, 9, f.now.Add(time.Hour))

	entries, err := f.svc.ComputeStandings(ctx, f.now)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, a.ID, entries[0].UserID)
	assert.Equal(t, 4, entries[0].Points)
	assert.Equal(t, 2, entries[0].Played)
	assert.Equal(t, c.ID, entries[1].UserID)
	assert.Equal(t, 1, entries[1].Points)

	later, err := f.svc.ComputeStandings(ctx, f.now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, a.ID, later[0].UserID)
	assert.Equal(t, c.ID, later[1].UserID)
	assert.Equal(t, 4, later[1].Points)
}

func TestComputeStandingsUsesCacheUntilSettlement(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	a := dbtest.SeedUser(t, f.conn, "a", f.now.Add(-72*time.Hour))
	b := dbtest.SeedUser(t, f.conn, "b", f.now.Add(-48*time.Hour))
	f.seedClosed(t, a.ID, b.ID, 2, 0, f.now.Add(-3*time.Hour))

	_, err := f.svc.ComputeStandings(ctx, f.now)
	require.NoError(t, err)
	cached, err := f.svc.ComputeStandings(ctx, f.now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, float64(1), f.cacheCount(t, "miss"))
	assert.Equal(t, float64(1), f.cacheCount(t, "hit"))
	assert.Equal(t, 3, cached[0].Points)

	f.seedClosed(t, b.ID, a.ID, 4, 0, f.now.Add(-time.Minute))
	fresh, err := f.svc.ComputeStandings(ctx, f.now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, float64(2), f.cacheCount(t, "miss"))
	assert.Equal(t, 3, fresh[0].Points)
	assert.Equal(t, 1, fresh[0].Won)
	assert.Equal(t, 1, fresh[0].Lost)
}

func TestComputeStandingsSurvivesCacheFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.cache.failGet = true
	dbtest.SeedUser(t, f.conn, "solo", f.now)

	entries, err := f.svc.ComputeStandings(context.Background(), f.now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0, entries[0].Points)
}

func TestPageWindows(t *testing.T) {
	f := newServiceFixture(t)
	for i := 0; i < 3; i++ {
		dbtest.SeedUser(t, f.conn, uuid.NewString(), f.now.Add(time.Duration(i)*time.Hour))
	}

	page, err := f.svc.Page(context.Background(), Query{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, 2, page.Entries[0].Rank)
	assert.True(t, page.AsOf.Equal(f.now))

	empty, err := f.svc.Page(context.Background(), Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty.Entries)
}

func TestCancelledBattlesExcludedFromDatabaseQuery(t *testing.T) {
	f := newServiceFixture(t)
	a := dbtest.SeedUser(t, f.conn, "a", f.now.Add(-time.Hour))
	b := dbtest.SeedUser(t, f.conn, "b", f.now.Add(-time.Hour))
	battle := f.seedClosed(t, a.ID, b.ID, 3, 0, f.now.Add(-time.Minute))
	require.NoError(t, f.conn.Model(&models.Battle{}).Where("id = ?", battle.ID).
		Updates(map[string]any{"outcome": enums.BattleOutcomeCancelled, "winner_id": nil}).Error)

	entries, err := f.svc.ComputeStandings(context.Background(), f.now)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Zero(t, entry.Played)
	}
}
