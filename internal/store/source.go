package store

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/railsection-simulator/core"
	"github.com/signalsfoundry/railsection-simulator/internal/config"
	"github.com/signalsfoundry/railsection-simulator/internal/logging"
	"github.com/signalsfoundry/railsection-simulator/kb"
)

// OpenCaseBook builds the case book named by cfg.CaseSource. Database
// sources are read once; an empty database is seeded with the built-in
// cases first.
func OpenCaseBook(ctx context.Context, cfg *config.Config, log logging.Logger) (*kb.CaseBook, error) {
	if log == nil {
		log = logging.Noop()
	}
	switch cfg.CaseSource {
	case config.SourceBuiltin, "":
		book := kb.NewBuiltinCaseBook()
		log.Info(ctx, "loaded built-in cases", logging.Int("count", book.Len()))
		return book, nil

	case config.SourceJSON:
		cases, err := core.LoadCasesFromDir(cfg.CasesDir)
		if err != nil {
			return nil, fmt.Errorf("load cases from %s: %w", cfg.CasesDir, err)
		}
		book := kb.NewCaseBook()
		for _, c := range cases {
			if err := book.Add(c); err != nil {
				return nil, fmt.Errorf("load cases from %s: %w", cfg.CasesDir, err)
			}
		}
		log.Info(ctx, "loaded cases from directory", logging.String("dir", cfg.CasesDir), logging.Int("count", book.Len()))
		return book, nil

	case config.SourceSQLite:
		repo, err := OpenSQLite(ctx, cfg.SQLiteDatabase)
		if err != nil {
			return nil, err
		}
		defer repo.Close()
		return fromRepository(ctx, repo, log.With(logging.String("source", config.SourceSQLite)))

	case config.SourcePostgres:
		repo, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		defer repo.Close()
		return fromRepository(ctx, repo, log.With(logging.String("source", config.SourcePostgres)))

	default:
		return nil, fmt.Errorf("%w: unknown case source %q", config.ErrInvalidConfig, cfg.CaseSource)
	}
}

func fromRepository(ctx context.Context, repo CaseRepository, log logging.Logger) (*kb.CaseBook, error) {
	existing, err := repo.ListCases(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		builtins := kb.BuiltinCases()
		if err := Seed(ctx, repo, builtins); err != nil {
			return nil, fmt.Errorf("seed case store: %w", err)
		}
		log.Info(ctx, "seeded empty case store", logging.Int("count", len(builtins)))
	}
	book := kb.NewCaseBook()
	n, err := LoadInto(ctx, repo, book)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "loaded cases from store", logging.Int("count", n))
	return book, nil
}
