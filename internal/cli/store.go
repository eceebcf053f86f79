package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/maruel/objdb/internal/config"
	"github.com/maruel/objdb/internal/docstore"
	"github.com/maruel/objdb/internal/idgen"
	"github.com/maruel/objdb/internal/mapper"
	"github.com/maruel/objdb/internal/sample"
)

// store is an opened data directory.
type store struct {
	cfg    *config.Config
	docs   *docstore.Store
	mapper *mapper.Mapper
	close  func() error
}

// openStore loads objdb.yaml from the data directory, applies the flag
// overrides and opens the configured backend.
func openStore(ctx context.Context, opts *RootOptions) (*store, error) {
	cfg, err := config.Load(opts.DataDir)
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.Cache != "" {
		cfg.Cache = opts.Cache
	}
	if opts.IDStrategy != "" {
		cfg.IDStrategy = opts.IDStrategy
	}
	if opts.watchSet {
		cfg.Watch = opts.Watch
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := cfg.CachePolicy()
	if err != nil {
		return nil, err
	}

	s := &store{cfg: cfg, close: func() error { return nil }}
	var backend docstore.Backend
	switch cfg.Backend {
	case config.BackendSQLite:
		path := cfg.SQLitePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.DataDir, path)
		}
		sb, err := docstore.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		backend = sb
		s.close = sb.Close
	default:
		fb, err := docstore.NewFileBackend(filepath.Join(opts.DataDir, "tables"))
		if err != nil {
			return nil, err
		}
		backend = fb
	}
	s.docs = docstore.New(backend)

	reg, err := sample.NewRegistry()
	if err != nil {
		_ = s.close()
		return nil, err
	}
	gen, err := idgen.ByName(cfg.IDStrategy, s.docs)
	if err != nil {
		_ = s.close()
		return nil, err
	}
	s.mapper = mapper.New(reg, s.docs, mapper.Options{Strategy: gen, Cache: policy})
	if cfg.Watch {
		if err := s.mapper.Watch(ctx); err != nil {
			_ = s.close()
			return nil, fmt.Errorf("failed to watch tables: %w", err)
		}
	}
	slog.DebugContext(ctx, "Opened store", "dir", opts.DataDir, "backend", cfg.Backend, "cache", cfg.Cache, "id_strategy", cfg.IDStrategy)
	return s, nil
}

// closeStore closes s and reports its error in *err unless *err is already
// set.
func closeStore(s *store, err *error) {
	if cerr := s.close(); cerr != nil && *err == nil {
		*err = fmt.Errorf("failed to close store: %w", cerr)
	}
}
