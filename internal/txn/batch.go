package txn

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/rickgao/blackjack-market/internal/chain"
)

// SubmitBatch runs an ordered multi-step action, typically approve then act,
// and waits for its outcome.
//
// When the wallet supports atomic batches the steps go out as one unit and a
// single PendingIntent is returned. Otherwise each step becomes its own
// PendingIntent labelled approving or processing, and a step is only
// submitted once the previous one has confirmed.
func (o *Orchestrator) SubmitBatch(ctx context.Context, steps []Intent) ([]PendingIntent, error) {
	switch len(steps) {
	case 0:
		return nil, errors.New("submit batch: no steps")
	case 1:
		p, err := o.Execute(ctx, steps[0])
		return []PendingIntent{p}, err
	}

	if o.wallet.SupportsAtomicBatch(ctx) {
		return o.submitAtomic(ctx, steps)
	}
	return o.submitSequential(ctx, steps)
}

func (o *Orchestrator) submitAtomic(ctx context.Context, steps []Intent) ([]PendingIntent, error) {
	action := steps[len(steps)-1]

	combined := action
	combined.Key = batchKey(steps)
	combined.Refresh = slices.Clone(action.Refresh)
	calls := make([]chain.Call, len(steps))
	var granted *big.Int
	for i, in := range steps {
		calls[i] = in.Call
		for _, name := range in.Refresh {
			if !slices.Contains(combined.Refresh, name) {
				combined.Refresh = append(combined.Refresh, name)
			}
		}
		if in.Grants != nil && (granted == nil || in.Grants.Cmp(granted) > 0) {
			granted = in.Grants
		}
	}

	p, err := o.submit(ctx, combined, calls, granted, StageSingle, 0, 0)
	if err != nil {
		return []PendingIntent{p}, err
	}
	p, err = o.AwaitConfirmation(ctx, p.ID)
	return []PendingIntent{p}, err
}

func (o *Orchestrator) submitSequential(ctx context.Context, steps []Intent) ([]PendingIntent, error) {
	o.logger.Info("wallet lacks atomic batches, submitting steps in sequence", "steps", len(steps))

	var (
		out     []PendingIntent
		granted *big.Int
	)
	for i, in := range steps {
		stage := StageProcessing
		if in.Kind == KindApprove {
			stage = StageApproving
		}

		p, err := o.submit(ctx, in, []chain.Call{in.Call}, granted, stage, i+1, len(steps))
		if err != nil {
			return append(out, p), err
		}

		p, err = o.AwaitConfirmation(ctx, p.ID)
		out = append(out, p)
		if err != nil {
			return out, err
		}
		if p.Status != StatusConfirmed {
			return out, fmt.Errorf("step %d/%d (%s) ended %s", i+1, len(steps), in.Kind, p.Status)
		}

		if in.Grants != nil {
			granted = in.Grants
		}
	}
	return out, nil
}

func batchKey(steps []Intent) string {
	keys := make([]string, len(steps))
	for i, in := range steps {
		keys[i] = in.key()
	}
	return "batch|" + strings.Join(keys, "|")
}
