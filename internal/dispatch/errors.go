package dispatch

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/auth"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/commit"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/score"
	"github.com/danielpatrickdp/psychescore/ledger-engine/internal/vector"
)

// Kind classifies a rejected invocation.
type Kind string

const (
	KindShape              Kind = "shape"
	KindRange              Kind = "range"
	KindCommitmentMismatch Kind = "commitment_mismatch"
	KindUnauthorized       Kind = "unauthorized"
	KindInternal           Kind = "internal"
)

var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMalformedArgs    = errors.New("malformed arguments")
)

// Error is returned for every rejected invocation. The ledger is unchanged.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a dispatch error, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return classify(err)
}

func classify(err error) Kind {
	var se *vector.ShapeError
	var re *score.RangeError
	switch {
	case errors.As(err, &se),
		errors.Is(err, vector.ErrOutOfScale),
		errors.Is(err, ErrMalformedArgs),
		errors.Is(err, ErrUnknownOperation):
		return KindShape
	case errors.As(err, &re):
		return KindRange
	case errors.Is(err, commit.ErrCommitmentMismatch):
		return KindCommitmentMismatch
	case errors.Is(err, auth.ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
