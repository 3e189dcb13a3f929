package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client abstracts the on-chain mint contract and the signing account.
type Client interface {
	Address() common.Address
	Balance(ctx context.Context) (*big.Int, error)
	IsReady(ctx context.Context) (bool, error)
	UnitPrice(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	Submit(ctx context.Context, req SubmitRequest) (Submission, error)
	AwaitConfirmation(ctx context.Context, sub Submission) (Receipt, error)
}

// HealthChecker is implemented by clients that can ping their RPC endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type SubmitRequest struct {
	Quantity int64
	Value    *big.Int // wei paid with the call
	GasLimit uint64
	GasPrice *big.Int
}

// Submission identifies a transaction that was accepted by the node.
type Submission struct {
	Hash  common.Hash
	Nonce uint64
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Status      uint64
}

var (
	// ErrNetwork marks transient read failures.
	ErrNetwork          = errors.New("network error")
	ErrPriceUnavailable = errors.New("unit price unavailable")
	ErrReverted         = errors.New("transaction reverted")
	// ErrConfirmTimeout means the wait ended before a receipt was seen.
	// The transaction may still be mined.
	ErrConfirmTimeout = errors.New("confirmation status unknown")
)

// SubmissionError covers insufficient funds, nonce conflicts, contract
// rejection and RPC failures while sending.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit mint tx: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationError covers reverted, dropped and timed-out transactions.
type ConfirmationError struct {
	TxHash common.Hash
	Err    error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirm tx %s: %v", e.TxHash.Hex(), e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

func unconfirmed(txHash common.Hash, cause error) error {
	return &ConfirmationError{TxHash: txHash, Err: fmt.Errorf("%w: %w", ErrConfirmTimeout, cause)}
}

func networkErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
}
