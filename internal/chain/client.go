// Package chain wraps the JSON-RPC calls the keeper makes against the
// check-in contract. Every call is rate limited and bounded by a per-call
// timeout; receipt polling has its own deadline.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/metis-devops/metis-checkin/internal/account"
	"github.com/metis-devops/metis-checkin/internal/logx"
)

var (
	ErrReverted       = errors.New("transaction reverted")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

const resendInterval = time.Minute

// Backend is the part of *ethclient.Client the keeper uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	RateLimit      float64 // requests per second, 0 disables limiting
	Burst          int
	CallTimeout    time.Duration
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	Log            logx.Logger
}

func (o *Options) normalize() {
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.ReceiptPoll <= 0 {
		o.ReceiptPoll = 3 * time.Second
	}
}

type Client struct {
	backend  Backend
	closer   func()
	contract common.Address
	abi      abi.ABI
	chainID  *big.Int
	signer   types.Signer
	limiter  *rate.Limiter
	opts     Options
	log      logx.Logger
}

// Dial connects to rpc and resolves the chain id for EIP-155 signing.
func Dial(basectx context.Context, rpc string, contract common.Address, opts Options) (*Client, error) {
	opts.normalize()
	newctx, cancel := context.WithTimeout(basectx, opts.CallTimeout)
	defer cancel()

	opts.Log.Info("connecting", logx.String("rpc", rpc))
	ec, err := ethclient.DialContext(newctx, rpc)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := ec.ChainID(newctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	c, err := New(ec, chainID, contract, opts)
	if err != nil {
		ec.Close()
		return nil, err
	}
	c.closer = ec.Close

	opts.Log.Info("chain info", logx.Big("chainId", chainID), logx.String("contract", strings.ToLower(contract.Hex())))
	return c, nil
}

func New(backend Backend, chainID *big.Int, contract common.Address, opts Options) (*Client, error) {
	opts.normalize()
	parsed, err := abi.JSON(strings.NewReader(CheckInABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		backend:  backend,
		contract: contract,
		abi:      parsed,
		chainID:  chainID,
		signer:   types.NewEIP155Signer(chainID),
		limiter:  rate.NewLimiter(limit, opts.Burst),
		opts:     opts,
		log:      opts.Log,
	}, nil
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) Contract() common.Address { return c.contract }

func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

// call waits for a rate limit token and bounds fn with the per-call timeout.
func (c *Client) call(basectx context.Context, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(basectx); err != nil {
		return err
	}
	newctx, cancel := context.WithTimeout(basectx, c.opts.CallTimeout)
	defer cancel()
	return fn(newctx)
}

// LastCheckIn reads the contract's last check-in timestamp for addr.
func (c *Client) LastCheckIn(ctx context.Context, addr common.Address) (time.Time, error) {
	data, err := c.abi.Pack(methodLastCheckIn, addr)
	if err != nil {
		return time.Time{}, fmt.Errorf("pack %s: %w", methodLastCheckIn, err)
	}

	var out []byte
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("call %s: %w", methodLastCheckIn, err)
	}

	values, err := c.abi.Unpack(methodLastCheckIn, out)
	if err != nil {
		return time.Time{}, fmt.Errorf("unpack %s: %w", methodLastCheckIn, err)
	}
	ts, ok := values[0].(*big.Int)
	if !ok || !ts.IsInt64() {
		return time.Time{}, fmt.Errorf("unpack %s: unexpected value %v", methodLastCheckIn, values[0])
	}
	return time.Unix(ts.Int64(), 0).UTC(), nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		price, err = c.backend.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if price == nil || price.BitLen() == 0 {
		return nil, fmt.Errorf("gas price is 0")
	}
	return price, nil
}

func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		nonce, err = c.backend.PendingNonceAt(ctx, addr)
		return err
	})
	return nonce, err
}

// EstimateCheckIn simulates checkIn(recipient) from the sender.
func (c *Client) EstimateCheckIn(ctx context.Context, from, recipient common.Address) (uint64, error) {
	data, err := c.abi.Pack(methodCheckIn, recipient)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", methodCheckIn, err)
	}

	var gas uint64
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return gas, nil
}

// SignCheckIn builds and signs a legacy checkIn(recipient) transaction.
func (c *Client) SignCheckIn(from account.Account, recipient common.Address, nonce, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	data, err := c.abi.Pack(methodCheckIn, recipient)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", methodCheckIn, err)
	}

	to := c.contract
	tx, err := types.SignNewTx(from.Key, c.signer, &types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return tx, nil
}

// Submit sends tx and waits for its receipt, re-broadcasting the same signed
// payload while it is pending. A failed first broadcast is returned as is.
func (c *Client) Submit(basectx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	log := c.log.With(logx.Stringer("tx", tx.Hash()))

	send := func() error {
		return c.call(basectx, func(ctx context.Context) error {
			return c.backend.SendTransaction(ctx, tx)
		})
	}

	log.Debug("sending")
	if err := send(); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}

	waitFor := func() (*types.Receipt, error) {
		var receipt *types.Receipt
		err := c.call(basectx, func(ctx context.Context) error {
			var err error
			receipt, err = c.backend.TransactionReceipt(ctx, tx.Hash())
			return err
		})
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return receipt, nil
	}

	resendTicker := time.NewTicker(resendInterval)
	defer resendTicker.Stop()

	recTicker := time.NewTicker(c.opts.ReceiptPoll)
	defer recTicker.Stop()

	start := time.Now()
	for {
		select {
		case <-basectx.Done():
			return nil, basectx.Err()
		case <-resendTicker.C:
			log.Info("resending")
			if err := send(); err != nil {
				log.Warn("resend failed", logx.Err(err))
			}
		case <-recTicker.C:
			duration := time.Since(start)
			receipt, err := waitFor()
			if err != nil {
				log.Warn("failed to check tx", logx.Err(err))
			}
			if receipt != nil {
				if receipt.Status != types.ReceiptStatusSuccessful {
					return receipt, fmt.Errorf("%w: %s in block %v", ErrReverted, tx.Hash().Hex(), receipt.BlockNumber)
				}
				log.Debug("confirmed", logx.Duration("duration", duration), logx.Big("height", receipt.BlockNumber))
				return receipt, nil
			}
			if duration > c.opts.ReceiptTimeout {
				return nil, fmt.Errorf("%w: %s after %s", ErrReceiptTimeout, tx.Hash().Hex(), duration)
			}
		}
	}
}
