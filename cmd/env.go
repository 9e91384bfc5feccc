package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conviction-cli/internal/ledger"
	"github.com/sells-group/conviction-cli/internal/proposal"
)

// engineEnv holds the ledger source and the evaluator reading from it.
type engineEnv struct {
	Source    ledger.Source
	Evaluator *proposal.Evaluator
}

// initEngine validates cfg for mode and opens the configured ledger.
func initEngine(ctx context.Context, mode string) (*engineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	src, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return nil, eris.Wrap(err, "open ledger")
	}
	zap.L().Debug("ledger opened", zap.String("driver", cfg.Ledger.Driver))

	return &engineEnv{
		Source:    src,
		Evaluator: proposal.NewEvaluator(src, proposal.ParamsFromConfig(cfg), cfg.Watch.Concurrency),
	}, nil
}

// Close releases the ledger source.
func (e *engineEnv) Close() {
	if err := e.Source.Close(); err != nil {
		zap.L().Warn("close ledger", zap.Error(err))
	}
}
