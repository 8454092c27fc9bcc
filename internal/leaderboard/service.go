package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/beatdrop/battles-backend/pkg/db/models"
	pkgerrors "github.com/beatdrop/battles-backend/pkg/errors"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/pagination"
	"github.com/beatdrop/battles-backend/pkg/redis"
)

const (
	DefaultCacheTTL = 10 * time.Minute
	asOfBucket      = time.Minute
)

// BattleReader lists the battles that feed the standings.
type BattleReader interface {
	ListSettled(ctx context.Context, asOf time.Time) ([]models.Battle, error)
	LatestSettledUpdate(ctx context.Context, asOf time.Time) (*time.Time, error)
}

// UserLister lists every mirrored user.
type UserLister interface {
	ListAll(ctx context.Context) ([]models.User, error)
}

// Service computes ranked standings from settled battles.
type Service interface {
	ComputeStandings(ctx context.Context, asOf time.Time) ([]Entry, error)
	Page(ctx context.Context, query Query) (*Page, error)
}

// Query selects a window of the standings. A zero AsOf means now.
type Query struct {
	AsOf   time.Time
	Limit  int
	Offset int
}

// Page is one offset window of the standings.
type Page struct {
	AsOf    time.Time `json:"asOf"`
	Entries []Entry   `json:"entries"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}

// ServiceParams wires the leaderboard service. Cache is optional.
type ServiceParams struct {
	Battles  BattleReader
	Users    UserLister
	Cache    redis.Cache
	Metrics  *metrics.BattleMetrics
	Logger   *logger.Logger
	CacheTTL time.Duration
	Now      func() time.Time
}

type service struct {
	battles  BattleReader
	users    UserLister
	cache    redis.Cache
	metrics  *metrics.BattleMetrics
	logg     *logger.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewService validates dependencies and returns the leaderboard service.
func NewService(params ServiceParams) (Service, error) {
	if params.Battles == nil {
		return nil, fmt.Errorf("battle reader required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("user lister required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		battles:  params.Battles,
		users:    params.Users,
		cache:    params.Cache,
		metrics:  params.Metrics,
		logg:     params.Logger,
		cacheTTL: ttl,
		now:      now,
	}, nil
}

func (s *service) Page(ctx context.Context, query Query) (*Page, error) {
	asOf := query.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()
	entries, err := s.ComputeStandings(ctx, asOf)
	if err != nil {
		return nil, err
	}

	limit := pagination.NormalizeLimit(query.Limit)
	offset := pagination.NormalizeOffset(query.Offset)
	page := &Page{AsOf: asOf, Total: len(entries), Limit: limit, Offset: offset, Entries: []Entry{}}
	if offset < len(entries) {
		end := offset + limit
		if end > len(entries) {
			end = len(entries)
		}
		page.Entries = entries[offset:end]
	}
	return page, nil
}

// ComputeStandings returns the full ranked table as of asOf. Cached tables
// are keyed by the newest settled battle, so any settlement invalidates them.
func (s *service) ComputeStandings(ctx context.Context, asOf time.Time) ([]Entry, error) {
	asOf = asOf.UTC()
	latest, err := s.battles.LatestSettledUpdate(ctx, asOf)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read latest settlement")
	}
	key := s.cacheKey(asOf, latest)

	if entries, ok := s.readCache(ctx, key); ok {
		return entries, nil
	}

	battles, err := s.battles.ListSettled(ctx, asOf)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settled battles")
	}
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}

	standings := BuildStandings(battles, users)
	for _, battleID := range standings.WinnerMismatches {
		s.metrics.IncWinnerMismatch()
		s.logg.Warn(s.logg.WithBattleID(ctx, battleID.String()), "stored winner disagrees with tallies; ranking by tallies")
	}

	s.writeCache(ctx, key, standings.Entries)
	return standings.Entries, nil
}

func (s *service) cacheKey(asOf time.Time, latest *time.Time) string {
	if s.cache == nil {
		return ""
	}
	version := "none"
	if latest != nil {
		version = strconv.FormatInt(latest.UTC().UnixNano(), 10)
	}
	bucket := strconv.FormatInt(asOf.Truncate(asOfBucket).Unix(), 10)
	return s.cache.CacheKey("leaderboard", version, bucket)
}

func (s *service) readCache(ctx context.Context, key string) ([]Entry, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "leaderboard cache read failed: "+err.Error())
		}
		s.metrics.IncCacheMiss()
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "leaderboard cache entry unreadable")
		s.metrics.IncCacheMiss()
		return nil, false
	}
	s.metrics.IncCacheHit()
	return entries, true
}

func (s *service) writeCache(ctx context.Context, key string, entries []Entry) {
	if s.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "leaderboard cache write failed: "+err.Error())
	}
}
