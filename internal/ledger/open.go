package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conviction-cli/internal/config"
	"github.com/sells-group/conviction-cli/internal/model"
)

// Open returns the Source selected by cfg.Driver. The nats driver starts a
// subscriber; the returned source fills as messages arrive.
func Open(ctx context.Context, cfg config.LedgerConfig) (Source, error) {
	funding := model.Funding{Funds: cfg.Funds, Supply: cfg.Supply}

	var (
		src Source
		err error
	)
	switch cfg.Driver {
	case config.DriverFile, "":
		src, err = LoadFile(ctx, cfg.Path, funding)
	case config.DriverPostgres:
		src, err = NewPostgres(ctx, cfg)
	case config.DriverSQLite:
		src, err = NewSQLite(cfg)
	case config.DriverNATS:
		stream := NewStream(cfg.NATSSubjectPrefix, funding)
		if _, err := Subscribe(cfg, stream); err != nil {
			return nil, err
		}
		return stream, nil
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
