package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/relwiz/internal/adapter"
)

// Kind is the shape of an executor result.
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindFatal
	KindNeedsInput
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	case KindNeedsInput:
		return "needs_input"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// InputSpec describes the human input a block is waiting for.
type InputSpec struct {
	Prompt   string
	Type     string
	Options  []string
	Required bool
}

// Outcome is the result of one executor attempt.
type Outcome struct {
	Kind     Kind
	Outputs  map[string]string
	Metadata map[string]string
	Err      error
	Input    *InputSpec
	// TimedOut marks a failure caused by the block timeout.
	TimedOut bool
}

func Success(outputs, metadata map[string]string) Outcome {
	return Outcome{Kind: KindSuccess, Outputs: outputs, Metadata: metadata}
}

func Retryable(err error, metadata map[string]string) Outcome {
	return Outcome{Kind: KindRetryable, Err: err, Metadata: metadata}
}

func Fatal(err error, metadata map[string]string) Outcome {
	return Outcome{Kind: KindFatal, Err: err, Metadata: metadata}
}

func NeedsInput(spec InputSpec) Outcome {
	return Outcome{Kind: KindNeedsInput, Input: &spec}
}

// FromError maps an adapter failure to an outcome by its class.
func FromError(err error, metadata map[string]string) Outcome {
	if errors.Is(err, context.Canceled) {
		return Fatal(err, metadata)
	}
	switch adapter.ClassOf(err) {
	case adapter.Permanent:
		return Fatal(err, metadata)
	default:
		return Retryable(err, metadata)
	}
}
