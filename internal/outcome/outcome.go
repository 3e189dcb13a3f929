package outcome

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Kind string

const (
	KindSuccess Kind = "SUCCESS"
	KindFailure Kind = "FAILURE"
)

// Outcome is the immutable result of one mint attempt.
type Outcome struct {
	Kind      Kind
	AttemptID string
	At        time.Time

	TxHash  common.Hash
	Block   uint64
	GasUsed uint64

	Reason string
	// Pending marks a failure whose transaction was sent but never
	// confirmed. It may still be mined.
	Pending bool
}

func Success(attemptID string, at time.Time, txHash common.Hash, block, gasUsed uint64) Outcome {
	return Outcome{
		Kind:      KindSuccess,
		AttemptID: attemptID,
		At:        at,
		TxHash:    txHash,
		Block:     block,
		GasUsed:   gasUsed,
	}
}

func Failure(attemptID string, at time.Time, err error) Outcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Outcome{
		Kind:      KindFailure,
		AttemptID: attemptID,
		At:        at,
		Reason:    reason,
	}
}

func Pending(attemptID string, at time.Time, txHash common.Hash, err error) Outcome {
	o := Failure(attemptID, at, err)
	o.TxHash = txHash
	o.Pending = true
	return o
}

func (o Outcome) Succeeded() bool {
	return o.Kind == KindSuccess
}

// Detail is the human-readable part of a log line.
func (o Outcome) Detail() string {
	if o.Succeeded() {
		return fmt.Sprintf("tx %s confirmed in block %d, gas used %d", o.TxHash.Hex(), o.Block, o.GasUsed)
	}
	return o.Reason
}

// Line formats "<ISO-8601 timestamp> - <outcome> - <detail>".
func (o Outcome) Line() string {
	return fmt.Sprintf("%s - %s - %s", o.At.UTC().Format(time.RFC3339), o.Kind, o.Detail())
}
