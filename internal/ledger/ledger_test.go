package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/ledger"
)

func TestService_DebitCredit(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	bal, err := s.Credit(ctx, "u1", 25, "deposit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal)

	bal, err = s.Debit(ctx, "u1", 10, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)

	bal, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), bal)
}

func TestService_DebitInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	_, err := s.Credit(ctx, "u1", 5, "deposit-1")
	require.NoError(t, err)

	bal, err := s.Debit(ctx, "u1", 10, "entry-1")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInsufficientFunds, errors.Convert(err).Code)
	assert.Equal(t, int64(5), bal)

	bal, err = s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal, "refused debit should leave the balance untouched")

	// The refused reference was not consumed, a later attempt with funds succeeds.
	_, err = s.Credit(ctx, "u1", 5, "deposit-2")
	require.NoError(t, err)
	bal, err = s.Debit(ctx, "u1", 10, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestService_ReferencesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	for range 3 {
		bal, err := s.Credit(ctx, "u1", 40, "prize:s1:p1")
		require.NoError(t, err)
		assert.Equal(t, int64(40), bal)
	}

	for range 2 {
		bal, err := s.Debit(ctx, "u1", 10, "entry:s2")
		require.NoError(t, err)
		assert.Equal(t, int64(30), bal)
	}
}

func TestService_ZeroAmountIsNoop(t *testing.T) {
	ctx := context.Background()
	s, mr := makeService(t)

	bal, err := s.Debit(ctx, "u1", 0, "entry-free")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
	assert.Empty(t, mr.Keys())
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	_, err := s.Credit(ctx, "u1", -1, "r")
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))

	_, err = s.Credit(ctx, "", 1, "r")
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))

	_, err = s.Credit(ctx, "u1", 1, "")
	assert.True(t, errors.Is(err, errors.CodeInvalidArgument))
}

func TestService_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)

	_, err := s.Credit(ctx, "u1", 50, "deposit")
	require.NoError(t, err)

	var (
		wg          sync.WaitGroup
		ok, refused atomic.Int32
		unexpected  atomic.Int32
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Debit(ctx, "u1", 10, fmt.Sprintf("entry-%d", i))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, errors.CodeInsufficientFunds):
				refused.Add(1)
			default:
				unexpected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(5), refused.Load())
	assert.Zero(t, unexpected.Load())

	bal, err := s.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestService_Unavailable(t *testing.T) {
	s, mr := makeService(t)
	mr.Close()

	_, err := s.Credit(context.Background(), "u1", 1, "r")
	require.Error(t, err)
	assert.True(t, errors.Convert(err).Retryable())
}

func makeService(t *testing.T) (*ledger.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{mr.Addr()},
		MaxRetries: -1,
	})
	t.Cleanup(func() { rc.Close() })
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	return ledger.NewService(ledger.Config{
		Redis:  rc,
		Prefix: "test:ledger",
	}), mr
}
