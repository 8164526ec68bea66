package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tcplite/adapter"
	redisadapter "github.com/justapithecus/tcplite/adapter/redis"
	"github.com/justapithecus/tcplite/adapter/webhook"
	"github.com/justapithecus/tcplite/cli/config"
	"github.com/justapithecus/tcplite/framing"
	"github.com/justapithecus/tcplite/lode"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/server"
)

// ServeCommand returns the serve command, which runs the broadcast relay.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the broadcast relay",
		Flags: []cli.Flag{
			// Relay flags
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Bind address (host:port)",
				Value: server.DefaultAddr,
			},
			&cli.IntFlag{
				Name:  "backlog",
				Usage: "Requested accept backlog (advisory)",
				Value: server.DefaultBacklog,
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "Read buffer size in bytes",
				Value: server.DefaultChunkSize,
			},
			&cli.IntFlag{
				Name:  "max-frame-size",
				Usage: "Largest accepted frame in bytes",
				Value: framing.DefaultMaxFrameSize,
			},
			&cli.DurationFlag{
				Name:  "write-timeout",
				Usage: "Per-peer relay write timeout",
				Value: server.DefaultWriteTimeout,
			},
			&cli.IntFlag{
				Name:  "max-clients",
				Usage: "Maximum connected peers (0 = unlimited)",
			},
			&cli.StringFlag{
				Name:  "direct-policy",
				Usage: "DIRECT_MSG handling: broadcast or drop",
				Value: string(server.DirectBroadcast),
			},
			&cli.StringFlag{
				Name:  "framing",
				Usage: "Wire framing: delimiter or length",
				Value: string(framing.ModeDelimiter),
			},
			&cli.DurationFlag{
				Name:  "stats-interval",
				Usage: "Period of the stats log line (0 = off)",
			},
			// Notification flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Peer event adapter: redis or webhook",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Adapter endpoint (redis:// URL or webhook URL)",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis pub/sub channel",
			},
			&cli.BoolFlag{
				Name:  "adapter-split-by-event",
				Usage: "Publish each peer event type on <channel>:<event_type> (redis only)",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-publish timeout",
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retry attempts",
				Value: redisadapter.DefaultRetries,
			},
			// Archive flags
			&cli.StringFlag{
				Name:  "archive-backend",
				Usage: "Packet archive backend: fs or s3",
				Value: "fs",
			},
			&cli.StringFlag{
				Name:  "archive-path",
				Usage: "Archive location (fs: directory, s3: bucket/prefix); empty disables archiving",
			},
			&cli.StringFlag{
				Name:  "archive-dataset",
				Usage: "Archive dataset name",
				Value: lode.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "archive-s3-region",
				Usage: "AWS region for the s3 backend (default chain if empty)",
			},
			&cli.StringFlag{
				Name:  "archive-s3-endpoint",
				Usage: "Custom S3 endpoint for S3-compatible stores",
			},
			&cli.BoolFlag{
				Name:  "archive-s3-path-style",
				Usage: "Force path-style S3 addressing",
			},
			&cli.IntFlag{
				Name:  "archive-flush-count",
				Usage: "Records buffered per archive write",
				Value: lode.DefaultFlushCount,
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "server")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srvCfg, err := buildServerConfig(c, cfg)
	if err != nil {
		return usageError("invalid server config: %v", err)
	}

	adapterType := resolveString(c, "adapter", configVal(cfg, func(c *config.Config) string { return c.Adapter.Type }))
	ac, err := parseAdapterConfigWithPrecedence(c, cfg, adapterType)
	if err != nil {
		return usageError("%v", err)
	}
	arc, err := parseArchiveConfigWithPrecedence(c, cfg)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("server", srvCfg.Addr, string(srvCfg.Framing))
	opts := []server.Option{
		server.WithLogger(logger),
		server.WithCollector(collector),
	}

	if ac != nil {
		a, err := buildAdapter(ac)
		if err != nil {
			return usageError("adapter: %v", err)
		}
		opts = append(opts, server.WithNotifier(a))
		logger.Info("peer notifications enabled", map[string]any{"adapter": ac.adapterType})
	}

	if arc != nil {
		archive, err := buildArchive(ctx, arc, collector)
		if err != nil {
			return cli.Exit(fmt.Sprintf("archive: %v", err), exitRuntimeError)
		}
		opts = append(opts, server.WithArchive(archive))
		logger.Sugar().Infof("archiving relayed packets to %s:%s (dataset %s)", arc.backend, arc.path, arc.dataset)
	}

	srv, err := server.New(srvCfg, opts...)
	if err != nil {
		return usageError("%v", err)
	}

	runErr := srv.Start(ctx)
	stopErr := srv.Stop()
	logFinalStats(logger, srv.Stats())

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitRuntimeError)
	}
	if stopErr != nil {
		return cli.Exit(fmt.Sprintf("shutdown: %v", stopErr), exitRuntimeError)
	}
	return nil
}

// buildServerConfig merges flags over the server section of the config file.
func buildServerConfig(c *cli.Context, cfg *config.Config) (server.Config, error) {
	sc := configVal(cfg, func(c *config.Config) config.ServerConfig { return c.Server })

	policy, err := server.ParseDirectPolicy(resolveString(c, "direct-policy", sc.DirectPolicy))
	if err != nil {
		return server.Config{}, err
	}
	mode, err := framing.ParseMode(resolveString(c, "framing", sc.Framing))
	if err != nil {
		return server.Config{}, err
	}

	out := server.Config{
		Addr:          resolveString(c, "addr", sc.Addr),
		Backlog:       resolveInt(c, "backlog", sc.Backlog),
		ChunkSize:     resolveInt(c, "chunk-size", sc.ChunkSize),
		MaxFrameSize:  resolveInt(c, "max-frame-size", sc.MaxFrameSize),
		WriteTimeout:  resolveDuration(c, "write-timeout", sc.WriteTimeout.Duration),
		MaxClients:    resolveInt(c, "max-clients", sc.MaxClients),
		DirectPolicy:  policy,
		Framing:       mode,
		StatsInterval: resolveDuration(c, "stats-interval", sc.StatsInterval.Duration),
	}
	if out.MaxClients < 0 {
		return server.Config{}, fmt.Errorf("--max-clients must be >= 0, got %d", out.MaxClients)
	}
	return out, nil
}

// adapterChoice holds the resolved notification adapter settings.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	split       bool
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

// parseAdapterConfigWithPrecedence resolves adapter settings. Returns nil
// when no adapter is configured.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	if adapterType == "" {
		return nil, nil
	}

	acfg := configVal(cfg, func(c *config.Config) config.AdapterConfig { return c.Adapter })
	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", acfg.URL),
		channel:     resolveString(c, "adapter-channel", acfg.Channel),
		split:       resolveBool(c, "adapter-split-by-event", acfg.SplitByEvent),
		headers:     acfg.Headers,
		timeout:     resolveDuration(c, "adapter-timeout", acfg.Timeout.Duration),
		retries:     c.Int("adapter-retries"),
	}
	if !c.IsSet("adapter-retries") && acfg.Retries != nil {
		ac.retries = *acfg.Retries
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("--adapter-retries must be >= 0, got %d", ac.retries)
	}

	switch adapterType {
	case "webhook":
		if ac.url == "" {
			return nil, fmt.Errorf("--adapter-url is required when --adapter=webhook")
		}
	case "redis":
		if ac.url == "" {
			return nil, fmt.Errorf("--adapter-url is required when --adapter=redis")
		}
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be redis or webhook)", adapterType)
	}
	return ac, nil
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "redis":
		a, err := redisadapter.New(redisadapter.Config{
			URL:          ac.url,
			Channel:      ac.channel,
			SplitByEvent: ac.split,
			Timeout:      ac.timeout,
			Retries:      ac.retries,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.adapterType)
	}
}

// archiveChoice holds the resolved archive settings.
type archiveChoice struct {
	backend     string
	path        string
	dataset     string
	region      string
	endpoint    string
	s3PathStyle bool
	flushCount  int
}

// parseArchiveConfigWithPrecedence resolves archive settings. Returns nil
// when no archive path is configured.
func parseArchiveConfigWithPrecedence(c *cli.Context, cfg *config.Config) (*archiveChoice, error) {
	acfg := configVal(cfg, func(c *config.Config) config.ArchiveConfig { return c.Archive })
	arc := &archiveChoice{
		backend:     resolveString(c, "archive-backend", acfg.Backend),
		path:        resolveString(c, "archive-path", acfg.Path),
		dataset:     resolveString(c, "archive-dataset", acfg.Dataset),
		region:      resolveString(c, "archive-s3-region", acfg.Region),
		endpoint:    resolveString(c, "archive-s3-endpoint", acfg.Endpoint),
		s3PathStyle: resolveBool(c, "archive-s3-path-style", acfg.S3PathStyle),
		flushCount:  resolveInt(c, "archive-flush-count", acfg.FlushCount),
	}

	if arc.path == "" {
		if c.IsSet("archive-backend") && arc.backend == "s3" {
			return nil, fmt.Errorf("--archive-path is required when --archive-backend=s3")
		}
		return nil, nil
	}
	switch arc.backend {
	case "", "fs", "s3":
	default:
		return nil, fmt.Errorf("unknown archive backend %q (must be fs or s3)", arc.backend)
	}
	if arc.flushCount < 0 {
		return nil, fmt.Errorf("--archive-flush-count must be >= 0, got %d", arc.flushCount)
	}
	return arc, nil
}

func buildArchive(ctx context.Context, arc *archiveChoice, collector *metrics.Collector) (*lode.Archive, error) {
	cfg := lode.Config{Dataset: arc.dataset, FlushCount: arc.flushCount}
	opts := []lode.Option{lode.WithCollector(collector)}

	if arc.backend == "s3" {
		bucket, prefix := lode.ParseS3Path(arc.path)
		return lode.NewS3Archive(ctx, cfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       arc.region,
			Endpoint:     arc.endpoint,
			UsePathStyle: arc.s3PathStyle,
		}, opts...)
	}
	return lode.NewArchive(cfg, arc.path, opts...)
}

func logFinalStats(logger *log.Logger, snap metrics.Snapshot) {
	logger.Info("relay stopped", snap.Fields())
}
