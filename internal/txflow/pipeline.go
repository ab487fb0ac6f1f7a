package txflow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/verdantgrid/irecdesk/internal/chain"
	"github.com/verdantgrid/irecdesk/internal/observability/metrics"
)

// Pipeline is the submit → track → decode sequence every mutating
// orchestration shares.
type Pipeline struct {
	Submitter *Submitter
	Tracker   *Tracker
	Opts      TrackOptions
	Logger    *slog.Logger
}

// Execute runs one transaction to a terminal outcome. Faults that map to a
// user-facing terminal status (user rejection, revert, timeout, unparseable
// response) come back inside the Outcome; environment and provider failures
// come back as an error and nothing was necessarily broadcast.
// onSubmitted, when non-nil, fires once the hash is known, before tracking —
// the hook where optimistic overlays get applied.
func (p *Pipeline) Execute(ctx context.Context, action string, call Call, onSubmitted func(Outcome)) (Outcome, error) {
	out := Outcome{OpID: uuid.NewString(), Action: action, Status: StatusPending}

	hash, err := p.Submitter.Submit(ctx, call)
	if err != nil {
		f := AsFault(err)
		switch f.Kind {
		case KindUserRejected, KindUnexpectedShape:
			out = out.FromFault(f)
			metrics.RecordOutcome(action, string(out.Status))
			return out, nil
		default:
			return out, f
		}
	}
	out.Hash = &hash
	out.Submitted = true
	metrics.RecordSubmission(action)
	if p.Logger != nil {
		p.Logger.Info("transaction submitted", "op", out.OpID, "action", action, "hash", hash.Hex())
	}
	if onSubmitted != nil {
		onSubmitted(out)
	}

	start := time.Now()
	rcpt, err := p.Tracker.Track(ctx, hash, p.Opts)
	if err != nil {
		// Timeout is "unknown, check back later", not failure; the tx may
		// still confirm after we stop watching.
		out = out.FromFault(AsFault(err))
		metrics.RecordOutcome(action, string(out.Status))
		return out, nil
	}

	if rcpt.Status != types.ReceiptStatusSuccessful {
		reason := DecodeRevertReason(rcpt)
		if reason == GenericRevertMessage {
			if replayed := p.replayReason(ctx, call); replayed != "" {
				reason = replayed
			}
		}
		out.Status = StatusReverted
		out.RevertReason = reason
		out.Message = reason
		metrics.RecordOutcome(action, string(out.Status))
		if p.Logger != nil {
			p.Logger.Warn("transaction reverted", "op", out.OpID, "action", action, "reason", reason)
		}
		return out, nil
	}

	out.Status = StatusSuccess
	metrics.RecordOutcome(action, string(out.Status))
	metrics.ObserveConfirmation(action, time.Since(start))
	return out, nil
}

// replayReason re-executes a failed call as eth_call and harvests the node's
// revert text. Used only when the receipt logs carried no decodable reason;
// anything other than a revert error is discarded.
func (p *Pipeline) replayReason(ctx context.Context, call Call) string {
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return ""
	}
	msg := ethereum.CallMsg{To: &call.Target, Value: call.Value, Data: data}
	if _, err := chain.CallWithRetry(ctx, p.Submitter.Backend, msg); err != nil {
		if s := ReasonFromError(err); strings.Contains(s, "execution reverted") {
			return s
		}
	}
	return ""
}
