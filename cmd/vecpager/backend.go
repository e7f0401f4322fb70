package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/cli"
	"github.com/hyperjump/vecpager/internal/models"
	"github.com/hyperjump/vecpager/internal/server"
	"github.com/hyperjump/vecpager/pkg/utils"
)

// backend is what client commands run against: a server over HTTP, or the
// store opened in-process.
type backend interface {
	Put(ctx context.Context, req *cli.PutRequest) (string, error)
	Get(ctx context.Context, id string) (*models.Record, error)
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, source string) (int, error)
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	OpenStream(ctx context.Context, query *models.SearchQuery) (string, int, error)
	Next(ctx context.Context, handle string) (*models.StreamBatch, error)
	CloseStream(ctx context.Context, handle string) error
	Compact(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
	Status(ctx context.Context) (*models.StatusResponse, error)
	Close(ctx context.Context) error
}

type remoteBackend struct {
	*cli.Client
}

func (remoteBackend) Close(context.Context) error { return nil }

// directBackend serves commands from an in-process store.
type directBackend struct {
	c *Components
}

func (d *directBackend) Put(ctx context.Context, req *cli.PutRequest) (string, error) {
	return d.c.Indexer.PutInput(ctx, &req.RecordInput, req.Source)
}

func (d *directBackend) Get(ctx context.Context, id string) (*models.Record, error) {
	return d.c.Indexer.Get(ctx, id)
}

func (d *directBackend) Delete(ctx context.Context, id string) error {
	return d.c.Indexer.Delete(ctx, id)
}

func (d *directBackend) DeleteBySource(ctx context.Context, source string) (int, error) {
	return d.c.Indexer.DeleteBySource(ctx, source)
}

func (d *directBackend) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	query.MaxResults = d.c.Config.Search.ResultLimit(query.MaxResults)
	return d.c.Engine.Search(ctx, query)
}

func (d *directBackend) OpenStream(ctx context.Context, query *models.SearchQuery) (string, int, error) {
	query.MaxResults = d.c.Config.Search.ResultLimit(query.MaxResults)
	stream, err := d.c.Engine.OpenStream(ctx, query)
	if err != nil {
		return "", 0, err
	}
	return d.c.Streams.Add(stream), stream.ChunksTotal(), nil
}

func (d *directBackend) Next(ctx context.Context, handle string) (*models.StreamBatch, error) {
	return d.c.Streams.Next(ctx, handle)
}

func (d *directBackend) CloseStream(_ context.Context, handle string) error {
	return d.c.Streams.Remove(handle)
}

func (d *directBackend) Compact(ctx context.Context) (int, error) {
	return d.c.Indexer.Compact(ctx)
}

func (d *directBackend) Flush(ctx context.Context) error {
	return d.c.Indexer.Flush(ctx)
}

func (d *directBackend) Status(ctx context.Context) (*models.StatusResponse, error) {
	return server.BuildStatus(ctx, d.c.Indexer, d.c.Config, d.c.Streams.Len())
}

func (d *directBackend) Close(ctx context.Context) error {
	return d.c.Close(ctx)
}

// newLogger builds the logger for a command. Debug wins over log_level.
func newLogger(cfg logSettings, debug bool) (*zap.Logger, error) {
	if debug || cfg.debug {
		return utils.NewLogger(true)
	}
	return utils.NewLevelLogger(cfg.level)
}

type logSettings struct {
	debug bool
	level string
}

// openBackend returns a remote backend when a server URL is set and opens the
// store directly otherwise.
func openBackend(ctx context.Context, flags *globalFlags) (backend, error) {
	if flags.serverURL != "" {
		return remoteBackend{cli.NewClient(flags.serverURL, nil)}, nil
	}
	cfg, _, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	// Direct mode prints results on stdout; keep routine logs out of the way.
	logger, err := newLogger(logSettings{debug: cfg.Debug, level: "warn"}, flags.debug)
	if err != nil {
		return nil, err
	}
	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &directBackend{c: c}, nil
}
