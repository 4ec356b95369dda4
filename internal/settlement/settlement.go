// Package settlement is the sole mutation path for asset balances: a
// scripted atomic balance transfer between one or two accounts, wrapped
// with a server-side time budget and a circuit breaker so a failing
// operational store trips fast instead of stalling every matching lane.
package settlement

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/store"
)

// ScriptTimeBudget bounds one settlement script's execution; exceeding
// it is treated as a script failure and escalated like any other
// settlement error.
const ScriptTimeBudget = 100 * time.Millisecond

// Settlement is the sole writer of asset hashes during live trading.
type Settlement struct {
	store   *store.Store
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// New wires a circuit breaker around the operational store's scripted
// calls: consecutive failures trip it open, and a timed half-open probe
// closes it again once the store answers.
func New(s *store.Store, logger *zap.Logger) *Settlement {
	st := gobreaker.Settings{
		Name:        "settlement",
		MaxRequests: 3,
		Interval:    0,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("settlement circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Settlement{
		store:   s,
		breaker: gobreaker.NewCircuitBreaker(st),
		logger:  logger,
	}
}

func (s *Settlement) withBudget(ctx context.Context, fn func(ctx context.Context) (int64, error)) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, ScriptTimeBudget)
	defer cancel()

	v, err := s.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Freeze moves amount from available to frozen for (userID, currency).
// Returns false if the available balance was insufficient.
func (s *Settlement) Freeze(ctx context.Context, symbol string, userID int64, currency string, amount domain.Amount) (bool, error) {
	key := store.AssetKey(symbol, userID, currency)
	n, err := s.withBudget(ctx, func(ctx context.Context) (int64, error) {
		return s.runFreeze(ctx, key, amount)
	})
	if err != nil {
		return false, domain.WrapError(domain.ErrCodeStoreUnavailable, "freeze script failed", domain.SeverityHigh, err, map[string]interface{}{
			"userId": userID, "currency": currency,
		})
	}
	return n == 1, nil
}

// ReverseFreeze moves amount back from frozen to available, used by
// Cancel and by the self-trade-prevention auto-cancel path.
func (s *Settlement) ReverseFreeze(ctx context.Context, symbol string, userID int64, currency string, amount domain.Amount) (bool, error) {
	key := store.AssetKey(symbol, userID, currency)
	n, err := s.withBudget(ctx, func(ctx context.Context) (int64, error) {
		return s.runReverseFreeze(ctx, key, amount)
	})
	if err != nil {
		return false, domain.WrapError(domain.ErrCodeStoreUnavailable, "reverse-freeze script failed", domain.SeverityHigh, err, map[string]interface{}{
			"userId": userID, "currency": currency,
		})
	}
	return n == 1, nil
}

// ExecuteTrade performs the four-key atomic transfer settling one fill.
// Returns false only if the invariant "resting orders are always
// sufficiently frozen" was somehow violated — the caller treats that as
// a SettlementInvariantBreach, not a normal rejection.
func (s *Settlement) ExecuteTrade(ctx context.Context, symbol string, buyerID, sellerID int64, base, quote string, price, qty domain.Amount) (bool, error) {
	notional := price.Mul(qty)
	keys := []string{
		store.AssetKey(symbol, buyerID, quote),
		store.AssetKey(symbol, buyerID, base),
		store.AssetKey(symbol, sellerID, base),
		store.AssetKey(symbol, sellerID, quote),
	}
	n, err := s.withBudget(ctx, func(ctx context.Context) (int64, error) {
		return s.runExecuteTrade(ctx, keys, notional, qty)
	})
	if err != nil {
		return false, domain.WrapError(domain.ErrCodeSettlement, "execute-trade script failed", domain.SeverityCritical, err, map[string]interface{}{
			"buyerId": buyerID, "sellerId": sellerID, "symbol": symbol,
		})
	}
	return n == 1, nil
}

// Unexported thin indirections onto the store's exported Eval* script
// calls, each stamping the current time in milliseconds.
func (s *Settlement) runFreeze(ctx context.Context, key string, amount domain.Amount) (int64, error) {
	return s.store.EvalFreeze(ctx, key, int64(amount), time.Now().UnixMilli())
}

func (s *Settlement) runReverseFreeze(ctx context.Context, key string, amount domain.Amount) (int64, error) {
	return s.store.EvalReverseFreeze(ctx, key, int64(amount), time.Now().UnixMilli())
}

func (s *Settlement) runExecuteTrade(ctx context.Context, keys []string, notional, qty domain.Amount) (int64, error) {
	return s.store.EvalExecuteTrade(ctx, keys, int64(notional), int64(qty), time.Now().UnixMilli())
}
