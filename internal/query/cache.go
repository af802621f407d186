package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BetLedger/internal/observability"
	"BetLedger/internal/state"

	"github.com/redis/go-redis/v9"
)

// CachedQueryService is a Redis read-through in front of QueryService for
// the hot read paths. Terminal bets never change and cache for long;
// pending bets and platform totals use a short TTL so staleness stays
// bounded without explicit invalidation.
type CachedQueryService struct {
	inner       *QueryService
	rdb         *redis.Client
	pendingTTL  time.Duration
	terminalTTL time.Duration
	metrics     *observability.Metrics
}

func NewCachedQueryService(
	inner *QueryService,
	rdb *redis.Client,
	pendingTTL, terminalTTL time.Duration,
	metrics *observability.Metrics,
) *CachedQueryService {
	return &CachedQueryService{
		inner:       inner,
		rdb:         rdb,
		pendingTTL:  pendingTTL,
		terminalTTL: terminalTTL,
		metrics:     metrics,
	}
}

func keyBet(betID uint64) string         { return fmt.Sprintf("betledger:bet:%d", betID) }
func keyPlatform(currency string) string { return "betledger:platform:" + currency }

// GetBet serves from Redis when possible, falling back to Postgres.
func (cs *CachedQueryService) GetBet(ctx context.Context, betID uint64) (*BetResponse, error) {
	if b, ok := cs.fetch(ctx, "bet", keyBet(betID)); ok {
		var resp BetResponse
		if err := json.Unmarshal(b, &resp); err == nil {
			return &resp, nil
		}
	}

	resp, err := cs.inner.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}

	ttl := cs.pendingTTL
	if resp.Status != state.BetStatusPending.String() {
		ttl = cs.terminalTTL
	}
	cs.store(ctx, keyBet(betID), resp, ttl)
	return resp, nil
}

// GetPlatform serves vault totals with a short TTL.
func (cs *CachedQueryService) GetPlatform(ctx context.Context, currency string) (*PlatformResponse, error) {
	if b, ok := cs.fetch(ctx, "platform", keyPlatform(currency)); ok {
		var resp PlatformResponse
		if err := json.Unmarshal(b, &resp); err == nil {
			return &resp, nil
		}
	}

	resp, err := cs.inner.GetPlatform(ctx, currency)
	if err != nil {
		return nil, err
	}
	cs.store(ctx, keyPlatform(currency), resp, cs.pendingTTL)
	return resp, nil
}

// ListBets and the other endpoints go straight to Postgres: they paginate
// and filter, which caches poorly.
func (cs *CachedQueryService) ListBets(ctx context.Context, bettor string, limit int, beforeBetID *uint64) ([]BetResponse, error) {
	return cs.inner.ListBets(ctx, bettor, limit, beforeBetID)
}

func (cs *CachedQueryService) GetGovernance(ctx context.Context) (*GovernanceResponse, error) {
	return cs.inner.GetGovernance(ctx)
}

func (cs *CachedQueryService) GetEventHistory(ctx context.Context, betID *uint64, limit int, beforeSequence *int64) ([]EventHistoryEntry, error) {
	return cs.inner.GetEventHistory(ctx, betID, limit, beforeSequence)
}

func (cs *CachedQueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	return cs.inner.VerifyIntegrity(ctx)
}

func (cs *CachedQueryService) fetch(ctx context.Context, endpoint, key string) ([]byte, bool) {
	if cs.rdb == nil {
		return nil, false
	}
	b, err := cs.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		cs.hit(endpoint, "miss")
		return nil, false
	}
	if err != nil {
		// Redis trouble degrades to Postgres reads, never to errors.
		cs.hit(endpoint, "error")
		return nil, false
	}
	cs.hit(endpoint, "hit")
	return b, true
}

func (cs *CachedQueryService) store(ctx context.Context, key string, v any, ttl time.Duration) {
	if cs.rdb == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	cs.rdb.Set(ctx, key, b, ttl)
}

func (cs *CachedQueryService) hit(endpoint, result string) {
	if cs.metrics != nil {
		cs.metrics.QueryCacheHits.WithLabelValues(endpoint, result).Inc()
	}
}
