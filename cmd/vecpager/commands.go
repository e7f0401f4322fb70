package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/vecpager/internal/cli"
	"github.com/hyperjump/vecpager/internal/models"
)

// withBackend opens the backend for a command and closes it afterwards.
func withBackend(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, b backend, format cli.OutputFormat) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	format, err := cli.ParseOutputFormat(flags.output)
	if err != nil {
		return err
	}
	b, err := openBackend(ctx, flags)
	if err != nil {
		return err
	}
	runErr := fn(ctx, b, format)
	if err := b.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// buildSearchQuery joins positional arguments into query text.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryFlags are the flags shared by search and stream.
type queryFlags struct {
	vector         string
	limit          int
	minScore       float64
	efSearch       int
	timeout        time.Duration
	equals         []string
	contains       []string
	boosts         []string
	includeVectors bool

	cmd *cobra.Command
}

func (q *queryFlags) bind(cmd *cobra.Command) {
	q.cmd = cmd
	f := cmd.Flags()
	f.StringVar(&q.vector, "vector", "", "query vector as comma separated floats (instead of query text)")
	f.IntVarP(&q.limit, "limit", "n", 0, "maximum number of results (default from config)")
	f.Float64Var(&q.minScore, "min-score", 0, "drop results scoring below this value (unset keeps all)")
	f.IntVar(&q.efSearch, "ef", 0, "HNSW ef_search override (0 uses the configured default)")
	f.DurationVar(&q.timeout, "timeout", 0, "search deadline; results found before it are returned as partial")
	f.StringArrayVar(&q.equals, "eq", nil, "metadata equality filter key=value (repeatable)")
	f.StringArrayVar(&q.contains, "contains", nil, "metadata substring filter key=value (repeatable)")
	f.StringArrayVar(&q.boosts, "boost", nil, "score boost key=factor when the metadata key is present (repeatable)")
	f.BoolVar(&q.includeVectors, "include-vectors", false, "return record vectors with results")
}

func (q *queryFlags) build(args []string) (*models.SearchQuery, error) {
	vec, err := cli.ParseVector(q.vector)
	if err != nil {
		return nil, err
	}
	content := buildSearchQuery(args)
	if len(vec) == 0 && content == "" {
		return nil, errors.New("a query needs text arguments or --vector")
	}
	equals, err := cli.ParsePairs(q.equals)
	if err != nil {
		return nil, fmt.Errorf("--eq: %w", err)
	}
	contains, err := cli.ParsePairs(q.contains)
	if err != nil {
		return nil, fmt.Errorf("--contains: %w", err)
	}
	boosts, err := cli.ParseBoosts(q.boosts)
	if err != nil {
		return nil, fmt.Errorf("--boost: %w", err)
	}
	query := &models.SearchQuery{
		Vector:         vec,
		MaxResults:     q.limit,
		EfSearch:       q.efSearch,
		TimeoutMs:      q.timeout.Milliseconds(),
		IncludeVectors: q.includeVectors,
		Filters:        models.SearchFilters{Equals: equals, Contains: contains, Boosts: boosts},
	}
	if q.cmd != nil && q.cmd.Flags().Changed("min-score") {
		query.MinScore = models.Threshold(q.minScore)
	}
	if len(vec) == 0 {
		query.Content = content
	}
	return query, nil
}

func newPutCmd(flags *globalFlags) *cobra.Command {
	var (
		vector, content, hash, source string
		meta                          []string
	)
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Store a record",
		Long: `Store a record from a vector, from content, or both.

Content without --vector is embedded by the configured embedder. A record
whose content hash is already stored is not inserted again; its id is
printed instead.`,
		Example: `  vecpager put --vector 0.1,0.2,0.3,0.4 --hash doc-1 --meta lang=go
  vecpager put --content "chunked vector storage" --meta kind=note`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vec, err := cli.ParseVector(vector)
			if err != nil {
				return err
			}
			m, err := cli.ParsePairs(meta)
			if err != nil {
				return fmt.Errorf("--meta: %w", err)
			}
			req := &cli.PutRequest{
				RecordInput: models.RecordInput{ContentHash: hash, Content: content, Vector: vec},
				Source:      source,
			}
			if len(m) > 0 {
				req.Metadata = make(map[string]interface{}, len(m))
				for k, v := range m {
					req.Metadata[k] = v
				}
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				id, err := b.Put(ctx, req)
				if err != nil {
					return err
				}
				if format == cli.OutputJSON {
					return cli.WriteJSON(cmd.OutOrStdout(), map[string]string{"id": id})
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&vector, "vector", "", "record vector as comma separated floats")
	f.StringVar(&content, "content", "", "record content (embedded when --vector is not set)")
	f.StringVar(&hash, "hash", "", "content hash identifying the record (derived from --content when empty)")
	f.StringVar(&source, "source", "", "source the record is filed under, for delete --source")
	f.StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value (repeatable)")
	return cmd
}

func newGetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				rec, err := b.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return cli.WriteRecord(cmd.OutOrStdout(), rec, format)
			})
		},
	}
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a record, or every record from a source",
		Example: `  vecpager delete 3f6c1a52-...
  vecpager delete --source /var/spool/vecpager/batch.jsonl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (source == "") {
				return errors.New("give either a record id or --source")
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend, _ cli.OutputFormat) error {
				if source != "" {
					n, err := b.DeleteBySource(ctx, source)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d records from %s\n", n, source)
					return nil
				}
				if err := b.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Record deleted: %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "delete every record filed under this source")
	return cmd
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	q := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "search [flags] [query text]",
		Short: "Search records",
		Long: `Search every chunk and return the best matches.

Query text is all remaining arguments joined by spaces and is embedded by the
server. Use --vector to search with a vector directly.`,
		Example: `  vecpager search --vector 1,0,0,0 --limit 5
  vecpager search --eq lang=go --boost pinned=2 chunked storage
  vecpager search --output json --timeout 200ms --vector 0.3,0.1,0.9,0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := q.build(args)
			if err != nil {
				return err
			}
			return withBackend(cmd, flags, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				resp, err := b.Search(ctx, query)
				if err != nil {
					return err
				}
				return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
			})
		},
	}
	q.bind(cmd)
	return cmd
}

func newStreamCmd(flags *globalFlags) *cobra.Command {
	q := &queryFlags{}
	var perBatch, maxBatches int
	cmd := &cobra.Command{
		Use:   "stream [flags] [query text]",
		Short: "Search records a few chunks at a time",
		Long: `Search incrementally. Each batch searches the next --chunks-per-batch
chunks and prints the best results found so far. The stream ends when every
chunk has been searched or after --max-batches pulls.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := q.build(args)
			if err != nil {
				return err
			}
			query.ChunksPerBatch = perBatch
			return withBackend(cmd, flags, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				handle, total, err := b.OpenStream(ctx, query)
				if err != nil {
					return err
				}
				if format == cli.OutputText {
					fmt.Fprintf(cmd.OutOrStdout(), "Stream %s over %d chunks\n", handle, total)
				}
				runErr := pullStream(ctx, b, handle, maxBatches, func(pull int, batch *models.StreamBatch) error {
					return cli.WriteStreamBatch(cmd.OutOrStdout(), batch, pull, format)
				})
				if err := b.CloseStream(ctx, handle); err != nil && runErr == nil {
					runErr = err
				}
				return runErr
			})
		},
	}
	q.bind(cmd)
	cmd.Flags().IntVar(&perBatch, "chunks-per-batch", 0, "chunks searched per pull (default from config)")
	cmd.Flags().IntVar(&maxBatches, "max-batches", 0, "stop after this many pulls (0 = until complete)")
	return cmd
}

// pullStream pulls batches until the stream completes, is exhausted, or
// maxBatches pulls were made.
func pullStream(ctx context.Context, b backend, handle string, maxBatches int, emit func(int, *models.StreamBatch) error) error {
	for pull := 1; maxBatches <= 0 || pull <= maxBatches; pull++ {
		batch, err := b.Next(ctx, handle)
		if err != nil {
			return err
		}
		if err := emit(pull, batch); err != nil {
			return err
		}
		if batch.Complete || batch.Exhausted {
			return nil
		}
	}
	return nil
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record, chunk, and disk usage counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend, format cli.OutputFormat) error {
				status, err := b.Status(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStatus(cmd.OutOrStdout(), status, format)
			})
		},
	}
}

func newCompactCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Purge deleted records and rebuild chunk indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend, _ cli.OutputFormat) error {
				n, err := b.Compact(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d deleted records\n", n)
				return nil
			})
		},
	}
}

func newFlushCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Write dirty in-memory chunks to storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, flags, func(ctx context.Context, b backend, _ cli.OutputFormat) error {
				if err := b.Flush(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Flushed")
				return nil
			})
		},
	}
}

func newSpoolCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spool",
		Short: "Manage spool directories of a running server",
		Long: `Manage the directories a running server watches for .jsonl record files.
Each line of a spool file is one record; removing the file deletes its records.`,
	}
	client := func() (*cli.Client, error) {
		if flags.serverURL == "" {
			return nil, errors.New("spool commands need a running server (--server)")
		}
		return cli.NewClient(flags.serverURL, nil), nil
	}
	var noSync bool
	add := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a spool directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := c.AddSpoolDirectory(cmd.Context(), path, !noSync); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
			return nil
		},
	}
	add.Flags().BoolVar(&noSync, "no-sync", false, "do not ingest files already in the directory")
	remove := &cobra.Command{
		Use:   "remove <path>",
		Short: "Remove a spool directory (ingested records stay)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := c.RemoveSpoolDirectory(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
			return nil
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List spool directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			dirs, err := c.SpoolDirectories(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range dirs {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.AddCommand(add, remove, list)
	return cmd
}
