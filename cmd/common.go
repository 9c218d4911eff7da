package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/client"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/config"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hashid"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/hub"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/logger"
	"github.com/aspuru-guzik-group/funsies-sub000/internal/storage"
)

// exitNotFoundOrTimeout is returned by wait/cat when the target can't be
// resolved or settled in time, distinct from the generic failure code 1.
const exitNotFoundOrTimeout = 2

// notFoundErr marks an error that should map to exit code 2 instead of the
// generic failure code 1.
type notFoundErr struct{ err error }

func (e *notFoundErr) Error() string { return e.err.Error() }
func (e *notFoundErr) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var nf *notFoundErr
	if errors.As(err, &nf) {
		return exitNotFoundOrTimeout
	}
	return 1
}

// session bundles everything a subcommand needs: the loaded config, a
// connected hub client, the storage backend it names, and the builder
// Context on top of them.
type session struct {
	cfg     config.Config
	hub     *hub.RedisClient
	storage storage.Engine
	idx     *hashid.Index
	ctx     *client.Context
	log     logger.Logger
}

func newSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	rdb, err := hub.New(ctx, cfg.HubURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to hub %s: %w", cfg.HubURL, err)
	}
	idx, err := hashid.NewIndex(rdb, 4096)
	if err != nil {
		return nil, err
	}
	eng, err := storage.Open(cfg.DataURL, rdb)
	if err != nil {
		return nil, err
	}
	log := logger.New()
	cctx := client.New(rdb, idx, eng)
	return &session{cfg: cfg, hub: rdb, storage: eng, idx: idx, ctx: cctx, log: log}, nil
}

func (s *session) Close() error { return s.hub.Close() }

// resolveArgs resolves every CLI-supplied hash argument (full or short)
// against the short-hash index.
func (s *session) resolveArgs(ctx context.Context, args []string) ([]string, error) {
	out := make([]string, len(args))
	for i, a := range args {
		h, err := s.idx.Resolve(ctx, a)
		if err != nil {
			return nil, &notFoundErr{err}
		}
		out[i] = h
	}
	return out, nil
}
