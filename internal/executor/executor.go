// Package executor submits one check-in transaction for one account with a
// bounded number of attempts.
package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/metis-devops/metis-checkin/internal/account"
	"github.com/metis-devops/metis-checkin/internal/gasprice"
	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/metrics"
	"github.com/metis-devops/metis-checkin/internal/retry"
)

// Chain is implemented by *chain.Client.
type Chain interface {
	EstimateCheckIn(ctx context.Context, from, recipient common.Address) (uint64, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	SignCheckIn(from account.Account, recipient common.Address, nonce, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error)
	Submit(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// GasPricer is implemented by *gasprice.Cache.
type GasPricer interface {
	Price(ctx context.Context) (*big.Int, error)
}

type Config struct {
	MaxRetries       int
	GasMultiplier    float64
	SuccessCooldown  time.Duration
	ErrorCooldown    time.Duration
	DefaultRecipient common.Address
}

type Engine struct {
	chain   Chain
	gas     GasPricer
	store   *account.Store
	cfg     Config
	sleep   retry.SleepFunc
	log     logx.Logger
	metrics *metrics.Metrics
}

type Option func(*Engine)

// WithSleep replaces the sleep used for backoff and cooldowns.
func WithSleep(fn retry.SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(chain Chain, gas GasPricer, store *account.Store, cfg Config, log logx.Logger, opts ...Option) *Engine {
	e := &Engine{
		chain: chain,
		gas:   gas,
		store: store,
		cfg:   cfg,
		sleep: retry.Sleep,
		log:   log.With(logx.String("component", "executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute performs one check-in for sender. On success it waits
// SuccessCooldown before returning so consecutive sends do not race on
// nonces or rate limits. The last error is returned once every attempt
// has failed.
func (e *Engine) Execute(ctx context.Context, sender account.Account) (*types.Receipt, error) {
	recipient := e.store.Recipient(sender.Address, e.cfg.DefaultRecipient)
	log := e.log.With(logx.String("account", sender.Hex()), logx.String("recipient", hexLower(recipient)))

	policy := retry.Policy{
		MaxAttempts: e.cfg.MaxRetries,
		Backoff:     e.cfg.ErrorCooldown,
		Sleep:       e.sleep,
		OnRetry: func(attempt int, err error) {
			log.Warn("check-in attempt failed, retrying",
				logx.Int("attempt", attempt),
				logx.Int("max", e.cfg.MaxRetries),
				logx.Duration("backoff", e.cfg.ErrorCooldown),
				logx.Err(err))
		},
	}

	var receipt *types.Receipt
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		e.metrics.SubmissionAttempt()
		r, err := e.attempt(ctx, sender, recipient, log.With(logx.Int("attempt", attempt)))
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.metrics.ExecutionFailed()
		return nil, fmt.Errorf("check-in %s: %w", sender.Hex(), err)
	}

	e.metrics.ExecutionSucceeded()
	log.Success("checked in",
		logx.Stringer("tx", receipt.TxHash),
		logx.Big("block", receipt.BlockNumber),
		logx.Uint64("gasUsed", receipt.GasUsed))

	if e.cfg.SuccessCooldown > 0 {
		log.Debug("success cooldown", logx.Duration("wait", e.cfg.SuccessCooldown))
		_ = e.sleep(ctx, e.cfg.SuccessCooldown)
	}
	return receipt, nil
}

func (e *Engine) attempt(ctx context.Context, sender account.Account, recipient common.Address, log logx.Logger) (*types.Receipt, error) {
	gasLimit, err := e.chain.EstimateCheckIn(ctx, sender.Address, recipient)
	if err != nil {
		return nil, err
	}

	price, err := e.gas.Price(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice := gasprice.Apply(price, e.cfg.GasMultiplier)

	nonce, err := e.chain.PendingNonce(ctx, sender.Address)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	tx, err := e.chain.SignCheckIn(sender, recipient, nonce, gasLimit, gasPrice)
	if err != nil {
		return nil, retry.NoRetry(err)
	}

	log.Info("submitting check-in",
		logx.Stringer("tx", tx.Hash()),
		logx.Uint64("nonce", nonce),
		logx.Uint64("gas", gasLimit),
		logx.Big("gasPrice", gasPrice))

	return e.chain.Submit(ctx, tx)
}

func hexLower(a common.Address) string {
	return account.Account{Address: a}.Hex()
}
