package budget

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/llm"
)

// ErrDenied is returned by Complete when the quota check fails.
var ErrDenied = errors.New("budget denied")

// Complete runs one completion under task: the call is checked first and
// charged afterwards, also when the provider fails. A denied check returns an
// error wrapping ErrDenied without calling the provider.
func (g *Governor) Complete(ctx context.Context, client llm.Client, task string, req llm.Request) (*llm.Response, error) {
	model := llm.ModelFor(client, req)
	if d := g.Check(ctx, task, model, 1); !d.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrDenied, d.Reason)
	}
	resp, err := client.Complete(ctx, req)
	charge := Charge{Task: task, Model: model, Provider: client.Provider(), Cost: 1}
	if resp != nil {
		charge.TokensIn = resp.TokensIn
		charge.TokensOut = resp.TokensOut
	}
	if cerr := g.Charge(ctx, charge); cerr != nil {
		g.logger.Warn("failed to record budget usage", zap.String("task", task), zap.String("model", model), zap.Error(cerr))
	}
	return resp, err
}
