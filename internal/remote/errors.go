package remote

import (
	"context"
	"errors"
	"fmt"
)

// Cue fetch failure kinds. Every error returned by FetchCues wraps exactly
// one of them.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrTransport      = errors.New("transport failure")
	ErrBadResponse    = errors.New("bad response")
	ErrNoData         = errors.New("no data")
	ErrDecode         = errors.New("decode failure")
	ErrCancelled      = errors.New("cancelled")
)

// ErrUnexpectedStatus is wrapped by upload and registration errors for
// non-200 responses.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// transportError classifies a failed round trip as cancelled or transport.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
