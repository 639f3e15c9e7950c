package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLedger is a Memory whose Outputs fail while down is set.
type flakyLedger struct {
	*Memory
	down  atomic.Bool
	calls atomic.Int32
}

func (f *flakyLedger) Outputs(ctx context.Context, address, token string) ([]UTXO, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, fmt.Errorf("%w: connection refused", ErrUnavailable)
	}
	return f.Memory.Outputs(ctx, address, token)
}

func newTestSwitch(primary Ledger, fallback Ledger) *Switch {
	cfg := DefaultBreakerConfig()
	cfg.Timeout = time.Hour
	return NewSwitch(primary, fallback, cfg, nil)
}

func TestSwitchUsesPrimaryWhenHealthy(t *testing.T) {
	live := &flakyLedger{Memory: NewMemory(WithoutSyntheticOutputs())}
	live.Fund("wallet", "CELL", d("100"))
	fallback := NewMemory()

	s := newTestSwitch(live, fallback)
	outs, err := s.Outputs(context.Background(), "wallet", "CELL")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.True(t, outs[0].Value.Equal(d("100")))
	assert.Equal(t, "closed", s.State())
}

func TestSwitchFallsBackPerCallAndOpens(t *testing.T) {
	live := &flakyLedger{Memory: NewMemory(WithoutSyntheticOutputs())}
	live.down.Store(true)
	fallback := NewMemory()
	s := newTestSwitch(live, fallback)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		outs, err := s.Outputs(ctx, "wallet", "CELL")
		require.NoError(t, err)
		assert.Len(t, outs, 3, "fallback serves synthetic outputs")
	}
	assert.Equal(t, "open", s.State())

	// Open breaker short-circuits the live side
	before := live.calls.Load()
	_, err := s.Outputs(ctx, "wallet", "CELL")
	require.NoError(t, err)
	assert.Equal(t, before, live.calls.Load())

	bound := Bind(ctx, s)
	assert.False(t, s.Live(bound))
}

func TestSwitchBoundLiveNeverMixesFallback(t *testing.T) {
	live := &flakyLedger{Memory: NewMemory(WithoutSyntheticOutputs())}
	fallback := NewMemory()
	s := newTestSwitch(live, fallback)

	bound := s.Bind(context.Background())
	require.True(t, s.Live(bound))

	live.down.Store(true)
	_, err := s.Outputs(bound, "wallet", "CELL")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSwitchNotFoundDoesNotTrip(t *testing.T) {
	live := NewMemory()
	s := newTestSwitch(live, NewMemory())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.StakeLock(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, "closed", s.State())
}

func TestBindOnPlainLedgerIsNoop(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Bind(ctx, NewMemory()))
}
