package txflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/verdantgrid/irecdesk/internal/chain"
)

// TrackOptions bounds the wait for inclusion.
type TrackOptions struct {
	Confirmations int
	PollInterval  time.Duration
	Timeout       time.Duration
}

func (o TrackOptions) withDefaults() TrackOptions {
	if o.Confirmations < 1 {
		o.Confirmations = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return o
}

// Tracker polls for a transaction receipt and the requested confirmation
// depth. A once-successful receipt is assumed final; chain reorgs are not
// handled, which is an accepted limitation of the platform.
type Tracker struct {
	Reader chain.Reader
	Logger *slog.Logger
}

// Track waits for the receipt. A Timeout fault means the outcome is unknown
// and the caller should advise a later re-check, not report failure. The
// receipt is returned even when its status is failed; classifying that is
// the caller's job.
func (t *Tracker) Track(ctx context.Context, hash common.Hash, opts TrackOptions) (*types.Receipt, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.Timeout)

	var rcpt *types.Receipt
	for {
		if time.Now().After(deadline) {
			return nil, Faultf(KindTimeout, "", "no receipt for %s within %s", hash.Hex(), opts.Timeout)
		}
		r, err := t.Reader.TransactionReceipt(ctx, hash)
		if err == nil && r != nil {
			rcpt = r
			break
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if t.Logger != nil {
				t.Logger.Debug("receipt poll error", "hash", hash.Hex(), "err", err)
			}
		}
		select {
		case <-ctx.Done():
			return nil, WrapFault(KindTimeout, "tracking cancelled", ctx.Err())
		case <-time.After(opts.PollInterval):
		}
	}

	// Accrue confirmation depth: inclusion block counts as the first.
	included := rcpt.BlockNumber.Uint64()
	for {
		head, err := t.Reader.BlockNumber(ctx)
		if err == nil && head >= included+uint64(opts.Confirmations)-1 {
			return rcpt, nil
		}
		if time.Now().After(deadline) {
			return nil, Faultf(KindTimeout, "", "receipt for %s found but only partially confirmed after %s", hash.Hex(), opts.Timeout)
		}
		select {
		case <-ctx.Done():
			return nil, WrapFault(KindTimeout, "tracking cancelled", ctx.Err())
		case <-time.After(opts.PollInterval):
		}
	}
}
