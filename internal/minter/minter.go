package minter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"mintwatch/internal/chain"
	"mintwatch/internal/executor"
	"mintwatch/internal/ledger"
	"mintwatch/internal/metrics"
	"mintwatch/internal/outcome"
	"mintwatch/internal/poller"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	defaultReadAttempts = 3
	defaultReadDelay    = 500 * time.Millisecond
)

type Config struct {
	FallbackUnitPrice *big.Int
	Quantity          int64
	GasLimit          uint64
	MarkupPercent     int64
	MaxAttempts       int
	ConfirmTimeout    time.Duration

	PollInterval time.Duration
	MaxPolls     int
	PollTimeout  time.Duration

	// LedgerKey identifies this account/contract in the ledger. Empty skips the ledger.
	LedgerKey string

	ReadAttempts uint
	ReadDelay    time.Duration
}

type Options struct {
	Logger   *zap.Logger
	Metrics  *metrics.Registry
	NewTimer poller.NewTimerFunc
	Now      func() time.Time
}

// Minter waits for the mint to open and then mints once.
type Minter struct {
	client   chain.Client
	recorder outcome.Recorder
	ledger   ledger.Store
	cfg      Config
	log      *zap.Logger
	metrics  *metrics.Registry
	newTimer poller.NewTimerFunc
	now      func() time.Time
}

// Result summarises a finished run.
type Result struct {
	Outcome       *outcome.Outcome
	AlreadyMinted *ledger.Record
	UnitPrice     *big.Int
	Attempts      int
	Checks        int
}

func New(client chain.Client, recorder outcome.Recorder, store ledger.Store, cfg Config, opts Options) *Minter {
	if cfg.ReadAttempts == 0 {
		cfg.ReadAttempts = defaultReadAttempts
	}
	if cfg.ReadDelay <= 0 {
		cfg.ReadDelay = defaultReadDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	m := &Minter{
		client:   client,
		recorder: recorder,
		ledger:   store,
		cfg:      cfg,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		newTimer: opts.NewTimer,
		now:      opts.Now,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Run checks the ledger and the balance, then polls until the mint is
// confirmed, the attempt or poll budget runs out, or ctx is cancelled.
// A sent mint that never confirms ends the run with ErrMintPending and is
// recorded so the next run waits on it instead of minting again.
func (m *Minter) Run(ctx context.Context) (Result, error) {
	var res Result

	if prior, err := m.priorMint(ctx); err != nil {
		return res, fatal("read ledger", err)
	} else if prior != nil && !prior.Pending {
		m.log.Info("mint already recorded for this account, nothing to do",
			zap.String("tx", prior.TxHash), zap.Uint64("block", prior.Block))
		res.AlreadyMinted = prior
		return res, nil
	} else if prior != nil {
		if done, err := m.resumePending(ctx, prior, &res); done {
			return res, err
		}
	}

	unitPrice := m.resolveUnitPrice(ctx)
	if unitPrice == nil {
		return res, fatal("resolve unit price", errors.New("no unit price from contract or config"))
	}
	res.UnitPrice = unitPrice

	if err := m.checkBalance(ctx, unitPrice); err != nil {
		return res, err
	}

	exec, err := executor.New(m.client, executor.ActionSpec{
		UnitPrice:         unitPrice,
		Quantity:          m.cfg.Quantity,
		GasLimit:          m.cfg.GasLimit,
		MarkupNumerator:   m.cfg.MarkupPercent,
		MarkupDenominator: 100,
	}, executor.Options{
		ConfirmTimeout: m.cfg.ConfirmTimeout,
		Logger:         m.log,
		Metrics:        m.metrics,
		Now:            m.now,
	})
	if err != nil {
		return res, fatal("configure executor", err)
	}

	pollCtx := ctx
	if m.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.cfg.PollTimeout)
		defer cancel()
	}

	p := poller.New(poller.Options{
		Interval:  m.cfg.PollInterval,
		MaxChecks: m.cfg.MaxPolls,
		NewTimer:  m.newTimer,
		Logger:    m.log,
		Metrics:   m.metrics,
	})

	var (
		lastFailure *outcome.Outcome
		exhausted   bool
	)
	onReady := func(_ context.Context, h *poller.Handle) bool {
		// The attempt runs on the parent context so the poll timeout
		// cannot abandon a transaction that is already in flight.
		o, err := exec.Execute(ctx)
		if err != nil {
			m.log.Warn("skipping ready tick", zap.Error(err))
			return false
		}
		res.Attempts++
		m.record(o)

		// A pending tx may still be mined, so stop rather than send another.
		if o.Succeeded() || o.Pending {
			m.saveLedger(ctx, o)
			res.Outcome = &o
			h.Cancel()
			return true
		}

		lastFailure = &o
		if res.Attempts >= m.cfg.MaxAttempts {
			exhausted = true
			return true
		}
		m.log.Info("mint attempt failed, resuming polling",
			zap.Int("attempt", res.Attempts), zap.Int("max_attempts", m.cfg.MaxAttempts))
		return false
	}

	m.log.Info("polling mint readiness",
		zap.String("account", m.client.Address().Hex()),
		zap.Duration("interval", m.cfg.PollInterval),
		zap.Int("max_polls", m.cfg.MaxPolls),
		zap.Duration("poll_timeout", m.cfg.PollTimeout),
	)
	h := p.Start(pollCtx, m.client.IsReady, onReady)
	state, pollErr := h.Wait()
	res.Checks = h.Checks()

	switch {
	case res.Outcome != nil && res.Outcome.Pending:
		return res, fmt.Errorf("%w: tx %s: %s", ErrMintPending, res.Outcome.TxHash.Hex(), res.Outcome.Reason)
	case res.Outcome != nil:
		return res, nil
	case exhausted:
		res.Outcome = lastFailure
		return res, fmt.Errorf("%w after %d attempts: %s", ErrAttemptsExhausted, res.Attempts, lastFailure.Reason)
	case state == poller.StateExhausted:
		return res, pollErr
	case ctx.Err() != nil:
		return res, ctx.Err()
	case errors.Is(pollErr, context.DeadlineExceeded):
		return res, fmt.Errorf("%w: no mint within %s", poller.ErrBudgetExhausted, m.cfg.PollTimeout)
	default:
		return res, fmt.Errorf("poller stopped in state %s: %w", state, pollErr)
	}
}

func (m *Minter) priorMint(ctx context.Context) (*ledger.Record, error) {
	if m.ledger == nil || m.cfg.LedgerKey == "" {
		return nil, nil
	}
	return m.ledger.Get(ctx, m.cfg.LedgerKey)
}

// resumePending waits again for a tx an earlier run left unconfirmed. It
// returns false only when that tx reverted and a new mint may be sent.
func (m *Minter) resumePending(ctx context.Context, prior *ledger.Record, res *Result) (bool, error) {
	hash := common.HexToHash(prior.TxHash)
	m.log.Warn("previous mint unconfirmed, waiting for it", zap.String("tx", prior.TxHash))

	waitCtx := ctx
	if m.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, m.cfg.ConfirmTimeout)
		defer cancel()
	}
	receipt, err := m.client.AwaitConfirmation(waitCtx, chain.Submission{Hash: hash})
	switch {
	case err == nil:
		o := outcome.Success(prior.AttemptID, m.now(), receipt.TxHash, receipt.BlockNumber, receipt.GasUsed)
		m.record(o)
		m.saveLedger(ctx, o)
		res.Outcome = &o
		return true, nil
	case errors.Is(err, chain.ErrReverted):
		m.record(outcome.Failure(prior.AttemptID, m.now(), err))
		m.log.Warn("previous mint reverted, minting again", zap.String("tx", prior.TxHash))
		return false, nil
	default:
		o := outcome.Pending(prior.AttemptID, m.now(), hash, err)
		res.Outcome = &o
		return true, fmt.Errorf("%w: tx %s: %s", ErrMintPending, prior.TxHash, o.Reason)
	}
}

func (m *Minter) resolveUnitPrice(ctx context.Context) *big.Int {
	price, err := m.client.UnitPrice(ctx)
	if err == nil && price != nil && price.Sign() > 0 {
		m.log.Info("using on-chain unit price", zap.Stringer("unit_price_wei", price))
		return price
	}
	if err != nil && !errors.Is(err, chain.ErrPriceUnavailable) {
		m.log.Warn("unit price read failed", zap.Error(err))
	}
	if m.cfg.FallbackUnitPrice == nil || m.cfg.FallbackUnitPrice.Sign() <= 0 {
		return nil
	}
	m.log.Info("using configured unit price", zap.Stringer("unit_price_wei", m.cfg.FallbackUnitPrice))
	return new(big.Int).Set(m.cfg.FallbackUnitPrice)
}

func (m *Minter) checkBalance(ctx context.Context, unitPrice *big.Int) error {
	balance, err := retry.DoWithData(
		func() (*big.Int, error) { return m.client.Balance(ctx) },
		retry.Context(ctx),
		retry.Attempts(m.cfg.ReadAttempts),
		retry.Delay(m.cfg.ReadDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, chain.ErrNetwork) }),
		retry.OnRetry(func(n uint, err error) {
			m.log.Warn("balance read failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fatal("read balance", err)
	}

	cost := new(big.Int).Mul(unitPrice, big.NewInt(m.cfg.Quantity))
	m.log.Info("wallet balance",
		zap.String("account", m.client.Address().Hex()),
		zap.Stringer("balance_wei", balance),
		zap.Stringer("mint_cost_wei", cost),
	)
	if balance.Cmp(cost) < 0 {
		return fatal("check balance", fmt.Errorf("%w: have %s wei, need %s wei", ErrInsufficientBalance, balance, cost))
	}
	return nil
}

func (m *Minter) record(o outcome.Outcome) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.Record(o); err != nil {
		m.log.Error("failed to record mint outcome", zap.String("attempt", o.AttemptID), zap.Error(err))
	}
}

func (m *Minter) saveLedger(ctx context.Context, o outcome.Outcome) {
	if m.ledger == nil || m.cfg.LedgerKey == "" {
		return
	}
	rec := ledger.Record{
		TxHash:    o.TxHash.Hex(),
		Block:     o.Block,
		GasUsed:   o.GasUsed,
		AttemptID: o.AttemptID,
		CreatedAt: o.At,
		Pending:   o.Pending,
	}
	if err := m.ledger.Save(context.WithoutCancel(ctx), m.cfg.LedgerKey, rec); err != nil {
		m.log.Error("failed to save mint to ledger", zap.String("tx", rec.TxHash), zap.Error(err))
	}
}
