package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/metis-devops/metis-checkin/internal/account"
	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/metrics"
	"github.com/metis-devops/metis-checkin/internal/retry"
)

var defaultRecipient = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type fakeChain struct {
	mu sync.Mutex

	submitFailures int
	signErr        error
	submits        int
	signed         []signCall
}

type signCall struct {
	from      common.Address
	recipient common.Address
	nonce     uint64
	gasLimit  uint64
	gasPrice  *big.Int
}

func (f *fakeChain) EstimateCheckIn(context.Context, common.Address, common.Address) (uint64, error) {
	return 60_000, nil
}

func (f *fakeChain) PendingNonce(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.signed)), nil
}

func (f *fakeChain) SignCheckIn(from account.Account, recipient common.Address, nonce, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signed = append(f.signed, signCall{from.Address, recipient, nonce, gasLimit, gasPrice})
	to := recipient
	return types.NewTx(&types.LegacyTx{Nonce: nonce, Gas: gasLimit, GasPrice: gasPrice, To: &to, Value: big.NewInt(0)}), nil
}

func (f *fakeChain) Submit(_ context.Context, tx *types.Transaction) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.submits <= f.submitFailures {
		return nil, errors.New("replacement transaction underpriced")
	}
	return &types.Receipt{TxHash: tx.Hash(), Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)}, nil
}

type fixedGas struct{ price int64 }

func (g fixedGas) Price(context.Context) (*big.Int, error) { return big.NewInt(g.price), nil }

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

func (r *recordingSleep) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum time.Duration
	for _, d := range r.waits {
		sum += d
	}
	return sum
}

func newStore(t *testing.T, n int) *account.Store {
	t.Helper()
	accounts := make([]account.Account, 0, n)
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		accounts = append(accounts, account.Account{Address: crypto.PubkeyToAddress(key.PublicKey), Key: key})
	}
	return account.NewStore(accounts, 0)
}

func testConfig() Config {
	return Config{
		MaxRetries:       3,
		GasMultiplier:    1.2,
		SuccessCooldown:  10 * time.Second,
		ErrorCooldown:    30 * time.Second,
		DefaultRecipient: defaultRecipient,
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	store := newStore(t, 2)
	chain := &fakeChain{}
	sleep := &recordingSleep{}
	e := New(chain, fixedGas{price: 1_000_000_000}, store, testConfig(), logx.Nop(), WithSleep(sleep.Sleep))

	sender := store.All()[0]
	receipt, err := e.Execute(context.Background(), sender)
	require.NoError(t, err)
	require.NotNil(t, receipt)

	require.Len(t, chain.signed, 1)
	call := chain.signed[0]
	require.Equal(t, sender.Address, call.from)
	require.Equal(t, store.All()[1].Address, call.recipient)
	require.Equal(t, uint64(60_000), call.gasLimit)
	require.Equal(t, int64(1_200_000_000), call.gasPrice.Int64())
	require.Equal(t, []time.Duration{10 * time.Second}, sleep.waits)
}

func TestExecuteSingleAccountUsesDefaultRecipient(t *testing.T) {
	t.Parallel()

	store := newStore(t, 1)
	chain := &fakeChain{}
	e := New(chain, fixedGas{price: 1}, store, testConfig(), logx.Nop(), WithSleep((&recordingSleep{}).Sleep))

	_, err := e.Execute(context.Background(), store.All()[0])
	require.NoError(t, err)
	require.Equal(t, defaultRecipient, chain.signed[0].recipient)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	store := newStore(t, 3)
	chain := &fakeChain{submitFailures: 2}
	sleep := &recordingSleep{}
	m := metrics.New()
	e := New(chain, fixedGas{price: 1}, store, testConfig(), logx.Nop(), WithSleep(sleep.Sleep), WithMetrics(m))

	receipt, err := e.Execute(context.Background(), store.All()[2])
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, 3, chain.submits)
	require.Equal(t, store.All()[0].Address, chain.signed[2].recipient)
	require.GreaterOrEqual(t, sleep.total(), 2*30*time.Second)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second, 10 * time.Second}, sleep.waits)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	t.Parallel()

	store := newStore(t, 2)
	chain := &fakeChain{submitFailures: 3}
	sleep := &recordingSleep{}
	e := New(chain, fixedGas{price: 1}, store, testConfig(), logx.Nop(), WithSleep(sleep.Sleep))

	_, err := e.Execute(context.Background(), store.All()[0])
	require.ErrorIs(t, err, retry.ErrExhausted)
	require.Equal(t, 3, chain.submits)
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleep.waits)
}

func TestExecuteSignErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	store := newStore(t, 2)
	chain := &fakeChain{signErr: errors.New("invalid key")}
	sleep := &recordingSleep{}
	e := New(chain, fixedGas{price: 1}, store, testConfig(), logx.Nop(), WithSleep(sleep.Sleep))

	_, err := e.Execute(context.Background(), store.All()[0])
	require.ErrorContains(t, err, "invalid key")
	require.True(t, retry.IsNoRetry(err))
	require.Empty(t, sleep.waits)
	require.Zero(t, chain.submits)
}
