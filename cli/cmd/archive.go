package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tcplite/cli/reader"
	"github.com/justapithecus/tcplite/cli/render"
	"github.com/justapithecus/tcplite/lode"
)

// ArchiveCommand returns the archive command, which reads records written
// by serve --archive-path.
func ArchiveCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:  "archive-backend",
			Usage: "Archive backend: fs or s3",
			Value: "fs",
		},
		&cli.StringFlag{
			Name:  "archive-path",
			Usage: "Archive location (fs: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "archive-dataset",
			Usage: "Archive dataset name",
			Value: lode.DefaultDataset,
		},
		&cli.StringFlag{
			Name:  "archive-s3-region",
			Usage: "AWS region for the s3 backend",
		},
		&cli.StringFlag{
			Name:  "archive-s3-endpoint",
			Usage: "Custom S3 endpoint for S3-compatible stores",
		},
		&cli.BoolFlag{
			Name:  "archive-s3-path-style",
			Usage: "Force path-style S3 addressing",
		},
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Record kind: packet or stats",
			Value: lode.RecordKindPacket,
		},
		&cli.StringFlag{
			Name:  "event",
			Usage: "Only packets with this event type (broadcast, direct_msg)",
		},
		&cli.StringFlag{
			Name:  "origin",
			Usage: "Only packets sent from this address",
		},
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum records to print (0 = all)",
			Value: 50,
		},
	}
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "archive",
		Usage:  "Query the packet archive",
		Flags:  flags,
		Action: archiveAction,
	}
}

func archiveAction(c *cli.Context) error {
	if c.Bool(TUIFlag.Name) {
		return usageError("--tui is not supported for archive command")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	q, err := buildArchiveQuery(c)
	if err != nil {
		return usageError("%v", err)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	arc, err := parseArchiveConfigWithPrecedence(c, cfg)
	if err != nil {
		return usageError("%v", err)
	}
	if arc == nil {
		return usageError("--archive-path is required (or archive.path in config)")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	rd, err := openArchiveReader(ctx, arc)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive: %v", err), exitRuntimeError)
	}

	out, err := queryArchive(ctx, rd, q)
	if err != nil {
		return cli.Exit(fmt.Sprintf("archive query: %v", err), exitRuntimeError)
	}
	return r.Render(out)
}

// archiveQuery selects what the archive command prints.
type archiveQuery struct {
	kind   string
	filter reader.PacketFilter
}

func buildArchiveQuery(c *cli.Context) (archiveQuery, error) {
	q := archiveQuery{
		kind: c.String("kind"),
		filter: reader.PacketFilter{
			EventType: c.String("event"),
			Origin:    c.String("origin"),
			Limit:     c.Int("limit"),
		},
	}
	switch q.kind {
	case lode.RecordKindPacket, lode.RecordKindStats:
	default:
		return archiveQuery{}, fmt.Errorf("unknown record kind %q (must be packet or stats)", q.kind)
	}
	if q.filter.Limit < 0 {
		return archiveQuery{}, fmt.Errorf("--limit must be >= 0, got %d", q.filter.Limit)
	}
	return q, nil
}

func openArchiveReader(ctx context.Context, arc *archiveChoice) (reader.Reader, error) {
	if arc.backend == "s3" {
		bucket, prefix := lode.ParseS3Path(arc.path)
		factory, err := lode.NewS3Factory(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       arc.region,
			Endpoint:     arc.endpoint,
			UsePathStyle: arc.s3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		ds, err := lode.NewReadDataset(arc.dataset, factory)
		if err != nil {
			return nil, err
		}
		return reader.NewLodeReader(ds), nil
	}

	ds, err := lode.NewReadDatasetFS(arc.dataset, arc.path)
	if err != nil {
		return nil, err
	}
	return reader.NewLodeReader(ds), nil
}

// queryArchive runs q. An empty result is an empty list, not an error.
func queryArchive(ctx context.Context, rd reader.Reader, q archiveQuery) (any, error) {
	var (
		out any
		err error
	)
	if q.kind == lode.RecordKindStats {
		out, err = rd.Stats(ctx, q.filter.Limit)
	} else {
		out, err = rd.Packets(ctx, q.filter)
	}
	if errors.Is(err, lode.ErrNoRecordsFound) {
		return []any{}, nil
	}
	return out, err
}
