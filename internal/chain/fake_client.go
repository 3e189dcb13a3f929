package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FakeClient replays scripted chain responses. It backs DRY_RUN and tests.
// ReadySeq is consumed one entry per IsReady call and its last value repeats;
// ReadyErrs and SubmitErrs are matched to calls by index.
type FakeClient struct {
	From        common.Address
	BalanceWei  *big.Int
	BalanceErr  error
	ReadySeq    []bool
	ReadyErrs   []error
	Price       *big.Int
	PriceErr    error
	Gas         *big.Int
	GasErr      error
	SubmitErrs  []error
	ConfirmErr  error
	Block       uint64
	GasUsed     uint64
	SubmitHook  func(ctx context.Context, req SubmitRequest)
	ConfirmHook func(ctx context.Context, sub Submission) error

	mu           sync.Mutex
	balanceCalls int
	readyCalls   int
	submitted    []SubmitRequest
}

// NewFakeClient returns a client that is immediately ready and well funded.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		From:       common.HexToAddress("0x00000000000000000000000000000000000f4ce1"),
		BalanceWei: new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
		Gas:        big.NewInt(1_000_000_000),
		Block:      1,
		GasUsed:    21000,
	}
}

func (f *FakeClient) Address() common.Address {
	return f.From
}

func (f *FakeClient) Balance(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.BalanceErr != nil {
		return nil, networkErr("balance", f.BalanceErr)
	}
	if f.BalanceWei == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(f.BalanceWei), nil
}

func (f *FakeClient) IsReady(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.readyCalls
	f.readyCalls++
	if idx < len(f.ReadyErrs) && f.ReadyErrs[idx] != nil {
		return false, networkErr("ready", f.ReadyErrs[idx])
	}
	if len(f.ReadySeq) == 0 {
		return true, nil
	}
	if idx >= len(f.ReadySeq) {
		return f.ReadySeq[len(f.ReadySeq)-1], nil
	}
	return f.ReadySeq[idx], nil
}

func (f *FakeClient) UnitPrice(_ context.Context) (*big.Int, error) {
	if f.PriceErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrPriceUnavailable, f.PriceErr)
	}
	if f.Price == nil {
		return nil, ErrPriceUnavailable
	}
	return new(big.Int).Set(f.Price), nil
}

func (f *FakeClient) GasPrice(_ context.Context) (*big.Int, error) {
	if f.GasErr != nil {
		return nil, networkErr("gas price", f.GasErr)
	}
	return new(big.Int).Set(f.Gas), nil
}

func (f *FakeClient) Submit(ctx context.Context, req SubmitRequest) (Submission, error) {
	if err := validateSubmitRequest(req); err != nil {
		return Submission{}, &SubmissionError{Err: err}
	}
	if f.SubmitHook != nil {
		f.SubmitHook(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	nonce := uint64(len(f.submitted))
	f.submitted = append(f.submitted, req)
	if int(nonce) < len(f.SubmitErrs) && f.SubmitErrs[nonce] != nil {
		return Submission{}, &SubmissionError{Err: f.SubmitErrs[nonce]}
	}
	return Submission{Hash: fakeHash(nonce, req), Nonce: nonce}, nil
}

func (f *FakeClient) AwaitConfirmation(ctx context.Context, sub Submission) (Receipt, error) {
	if f.ConfirmHook != nil {
		if err := f.ConfirmHook(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return Receipt{}, unconfirmed(sub.Hash, ctx.Err())
			}
			return Receipt{}, &ConfirmationError{TxHash: sub.Hash, Err: err}
		}
	}
	if f.ConfirmErr != nil {
		return Receipt{}, &ConfirmationError{TxHash: sub.Hash, Err: f.ConfirmErr}
	}
	return Receipt{
		TxHash:      sub.Hash,
		BlockNumber: f.Block,
		GasUsed:     f.GasUsed,
		Status:      1,
	}, nil
}

func (f *FakeClient) Ping(_ context.Context) error {
	return nil
}

func (f *FakeClient) ReadyCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyCalls
}

func (f *FakeClient) BalanceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

// Submitted returns every request passed to Submit, including rejected ones.
func (f *FakeClient) Submitted() []SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SubmitRequest, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func fakeHash(nonce uint64, req SubmitRequest) common.Hash {
	return crypto.Keccak256Hash(
		new(big.Int).SetUint64(nonce).Bytes(),
		big.NewInt(req.Quantity).Bytes(),
		req.Value.Bytes(),
		req.GasPrice.Bytes(),
	)
}
