package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"mintwatch/internal/chain"
	"mintwatch/internal/metrics"
	"mintwatch/internal/outcome"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInFlight is returned when another submission has not finished yet.
var ErrInFlight = errors.New("mint submission already in flight")

// ActionSpec is the priced, gas-bounded mint. Markup is Numerator/Denominator.
type ActionSpec struct {
	UnitPrice         *big.Int
	Quantity          int64
	GasLimit          uint64
	MarkupNumerator   int64
	MarkupDenominator int64
}

// Value is UnitPrice × Quantity.
func (s ActionSpec) Value() *big.Int {
	return new(big.Int).Mul(s.UnitPrice, big.NewInt(s.Quantity))
}

func (s ActionSpec) validate() error {
	if s.UnitPrice == nil || s.UnitPrice.Sign() < 0 {
		return errors.New("unit price must be non-negative")
	}
	if s.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if s.GasLimit == 0 {
		return errors.New("gas limit must be positive")
	}
	if s.MarkupNumerator <= 0 || s.MarkupDenominator <= 0 {
		return errors.New("gas markup must be positive")
	}
	return nil
}

// AdjustGasPrice returns floor(observed × num / den).
func AdjustGasPrice(observed *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(observed, big.NewInt(num))
	return out.Quo(out, big.NewInt(den))
}

type Executor struct {
	client         chain.Client
	spec           ActionSpec
	confirmTimeout time.Duration
	log            *zap.Logger
	metrics        *metrics.Registry
	now            func() time.Time

	inFlight sync.Mutex
}

type Options struct {
	ConfirmTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *metrics.Registry
	Now            func() time.Time
}

func New(client chain.Client, spec ActionSpec, opts Options) (*Executor, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("action spec: %w", err)
	}
	if opts.ConfirmTimeout <= 0 {
		return nil, errors.New("confirm timeout must be positive")
	}
	e := &Executor{
		client:         client,
		spec:           spec,
		confirmTimeout: opts.ConfirmTimeout,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Execute submits exactly one mint and waits for it to confirm. Every chain
// failure becomes a Failure outcome; the only error returned is ErrInFlight.
// A sent transaction whose receipt never arrived yields a Pending outcome.
func (e *Executor) Execute(ctx context.Context) (outcome.Outcome, error) {
	if !e.inFlight.TryLock() {
		e.metrics.IncAttempt("skipped")
		return outcome.Outcome{}, ErrInFlight
	}
	defer e.inFlight.Unlock()

	attemptID := uuid.NewString()
	log := e.log.With(zap.String("attempt", attemptID))

	sub, receipt, err := e.attempt(ctx, log)
	if errors.Is(err, chain.ErrConfirmTimeout) {
		e.metrics.IncAttempt("pending")
		log.Error("mint sent but not confirmed", zap.String("tx", sub.Hash.Hex()), zap.Error(err))
		return outcome.Pending(attemptID, e.now(), sub.Hash, err), nil
	}
	if err != nil {
		e.metrics.IncAttempt("failure")
		log.Error("mint attempt failed", zap.Error(err))
		return outcome.Failure(attemptID, e.now(), err), nil
	}

	e.metrics.IncAttempt("success")
	log.Info("mint confirmed",
		zap.String("tx", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber),
		zap.Uint64("gas_used", receipt.GasUsed),
	)
	return outcome.Success(attemptID, e.now(), receipt.TxHash, receipt.BlockNumber, receipt.GasUsed), nil
}

func (e *Executor) attempt(ctx context.Context, log *zap.Logger) (chain.Submission, chain.Receipt, error) {
	observed, err := e.client.GasPrice(ctx)
	if err != nil {
		return chain.Submission{}, chain.Receipt{}, err
	}
	adjusted := AdjustGasPrice(observed, e.spec.MarkupNumerator, e.spec.MarkupDenominator)
	e.metrics.SetGasPrices(observed, adjusted)

	req := chain.SubmitRequest{
		Quantity: e.spec.Quantity,
		Value:    e.spec.Value(),
		GasLimit: e.spec.GasLimit,
		GasPrice: adjusted,
	}
	log.Info("submitting mint",
		zap.Int64("quantity", req.Quantity),
		zap.Stringer("value_wei", req.Value),
		zap.Uint64("gas_limit", req.GasLimit),
		zap.Stringer("gas_price_wei", adjusted),
		zap.Stringer("observed_gas_price_wei", observed),
	)

	sub, err := e.client.Submit(ctx, req)
	if err != nil {
		return chain.Submission{}, chain.Receipt{}, err
	}
	log.Info("mint submitted, awaiting confirmation", zap.String("tx", sub.Hash.Hex()), zap.Uint64("nonce", sub.Nonce))

	confirmCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	receipt, err := e.client.AwaitConfirmation(confirmCtx, sub)
	if err != nil && confirmCtx.Err() != nil &&
		!errors.Is(err, chain.ErrReverted) && !errors.Is(err, chain.ErrConfirmTimeout) {
		err = fmt.Errorf("%w: %w", chain.ErrConfirmTimeout, err)
	}
	return sub, receipt, err
}
