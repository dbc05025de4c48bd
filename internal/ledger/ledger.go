package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizarena/royale/internal/errors"
)

const defaultRefTTL = 30 * 24 * time.Hour

const (
	resultApplied = iota
	resultInsufficient
	resultReplayed
)

// applyScript moves a user's balance by ARGV[1] unless the reference in KEYS[2] was already applied.
// A movement that would make the balance negative is refused without side effects.
var applyScript = redis.NewScript(`
local balance = tonumber(redis.call('GET', KEYS[1]) or '0')
if redis.call('EXISTS', KEYS[2]) == 1 then
	return {2, balance}
end
local delta = tonumber(ARGV[1])
if balance + delta < 0 then
	return {1, balance}
end
balance = redis.call('INCRBY', KEYS[1], delta)
redis.call('SET', KEYS[2], ARGV[1], 'EX', ARGV[2])
return {0, balance}
`)

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
	// RefTTL is how long applied references are remembered for idempotency.
	RefTTL time.Duration
}

// Service keeps user currency balances. Every movement carries a reference,
// applying the same reference twice is a no-op, so callers may retry freely.
type Service struct {
	redis  redis.UniversalClient
	prefix string
	refTTL time.Duration
}

func NewService(c Config) *Service {
	ttl := c.RefTTL
	if ttl <= 0 {
		ttl = defaultRefTTL
	}

	return &Service{
		redis:  c.Redis,
		prefix: c.Prefix,
		refTTL: ttl,
	}
}

// Debit takes amount from the user's balance and returns the remaining balance.
// It fails with CodeInsufficientFunds, leaving the balance untouched, if the balance is too low.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, ref string) (int64, error) {
	return s.apply(ctx, userID, -amount, amount, ref)
}

// Credit adds amount to the user's balance and returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, ref string) (int64, error) {
	return s.apply(ctx, userID, amount, amount, ref)
}

// Balance returns the user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	b, err := s.redis.Get(ctx, s.balanceKey(userID)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Unavailable(fmt.Errorf("ledger: get balance: %w", err))
	}

	return b, nil
}

func (s *Service) apply(ctx context.Context, userID string, delta, amount int64, ref string) (int64, error) {
	if userID == "" || ref == "" {
		return 0, errors.InvalidArgument("ledger: user and reference are required")
	}
	if amount < 0 {
		return 0, errors.InvalidArgument("ledger: amount must not be negative: %d", amount)
	}
	if amount == 0 {
		return s.Balance(ctx, userID)
	}

	keys := []string{s.balanceKey(userID), s.refKey(userID, ref)}
	res, err := applyScript.Run(ctx, s.redis, keys, delta, int64(s.refTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, errors.Unavailable(fmt.Errorf("ledger: apply %s: %w", ref, err))
	}
	if len(res) != 2 {
		return 0, errors.Internal(fmt.Errorf("ledger: unexpected script result: %v", res))
	}

	switch res[0] {
	case resultInsufficient:
		return res[1], errors.New(errors.CodeInsufficientFunds,
			errors.WithMessagef("insufficient funds: balance=%d amount=%d", res[1], amount))
	case resultApplied, resultReplayed:
		return res[1], nil
	}

	return 0, errors.Internal(fmt.Errorf("ledger: unexpected script status: %d", res[0]))
}

// Keys of one user share a hash tag so the script stays on a single cluster slot.
func (s *Service) balanceKey(userID string) string {
	return fmt.Sprintf("%s:{%s}:balance", s.prefix, userID)
}

func (s *Service) refKey(userID, ref string) string {
	return fmt.Sprintf("%s:{%s}:ref:%s", s.prefix, userID, ref)
}
