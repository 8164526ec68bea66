package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/tcplite/cli/config"
	"github.com/justapithecus/tcplite/cli/render"
	"github.com/justapithecus/tcplite/client"
	"github.com/justapithecus/tcplite/codec"
	"github.com/justapithecus/tcplite/framing"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/types"
)

// DefaultSendInterval is the default delay between sends.
const DefaultSendInterval = 500 * time.Millisecond

// SendCommand returns the send command, which broadcasts a packet on an
// interval and prints whatever the relay forwards back.
func SendCommand() *cli.Command {
	flags := clientFlags()
	flags = append(flags,
		&cli.StringFlag{
			Name:  "event",
			Usage: "Event type: broadcast or direct_msg",
			Value: "broadcast",
		},
		&cli.StringFlag{
			Name:  "type",
			Usage: "Data type: raw, object, text or json",
			Value: "json",
		},
		&cli.StringFlag{
			Name:     "data",
			Usage:    "Payload (JSON for json and object, literal for text and raw)",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "interval",
			Usage: "Delay between sends",
			Value: DefaultSendInterval,
		},
		&cli.IntFlag{
			Name:  "count",
			Usage: "Number of sends (0 = until interrupted)",
		},
	)
	flags = append(flags, OutputFlags()...)

	return &cli.Command{
		Name:   "send",
		Usage:  "Broadcast a packet periodically",
		Flags:  flags,
		Action: sendAction,
	}
}

func sendAction(c *cli.Context) error {
	if c.Bool(TUIFlag.Name) {
		return usageError("--tui is not supported for send command")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "client")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	pkt, err := buildPacket(c.String("event"), c.String("type"), c.String("data"))
	if err != nil {
		return usageError("%v", err)
	}
	if _, err := codec.Encode(pkt); err != nil {
		return usageError("invalid --data: %v", err)
	}
	interval := c.Duration("interval")
	if interval <= 0 {
		return usageError("--interval must be > 0, got %s", interval)
	}
	count := c.Int("count")
	if count < 0 {
		return usageError("--count must be >= 0, got %d", count)
	}

	clientCfg, err := buildClientConfig(c, cfg)
	if err != nil {
		return usageError("invalid client config: %v", err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("client", clientCfg.Addr, string(clientCfg.Framing))
	cl, err := client.New(clientCfg, packetPrinter(r, logger),
		client.WithLogger(logger),
		client.WithCollector(collector),
	)
	if err != nil {
		return usageError("%v", err)
	}
	defer func() { _ = cl.Close() }()

	if err := cl.Start(ctx); err != nil {
		return mapClientErr(err)
	}

	err = runWithClient(ctx, cl, func(ctx context.Context) error {
		return runSendTask(ctx, func() error { return cl.SendPacket(pkt) }, interval, count, logger)
	})
	logger.Info("client stopped", cl.Stats().Fields())
	return mapClientErr(err)
}

// runWithClient runs task until it returns, ctx ends or the client fails.
// A client failure cancels the task and is returned.
func runWithClient(ctx context.Context, cl *client.Client, task func(context.Context) error) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(taskCtx)
	g.Go(func() error {
		defer cancel()
		return task(gctx)
	})
	g.Go(func() error {
		select {
		case <-cl.Done():
			return cl.Err()
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

// runSendTask calls send immediately and then every interval. count bounds
// the number of calls; 0 means unbounded. A send that was not delivered is
// logged and the task moves on; any other send error stops it.
func runSendTask(ctx context.Context, send func() error, interval time.Duration, count int, logger *log.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		err := send()
		switch {
		case err == nil:
			logger.Debug("packet sent", map[string]any{"seq": sent + 1})
		case errors.Is(err, client.ErrNotDelivered):
			logger.Warn("packet not delivered", map[string]any{"seq": sent + 1})
		default:
			return err
		}
	}
	return nil
}

// buildPacket assembles the packet described by the send flags.
func buildPacket(event, dataType, data string) (*types.Packet, error) {
	et, err := types.ParseEventType(event)
	if err != nil {
		return nil, err
	}
	dt, err := types.ParseDataType(dataType)
	if err != nil {
		return nil, err
	}
	payload, err := buildPacketPayload(dt, data)
	if err != nil {
		return nil, err
	}
	return &types.Packet{Event: et, Data: dt, Payload: payload}, nil
}

// buildPacketPayload converts --data into a payload value for dt. JSON and
// OBJECT data is parsed as JSON; the codec re-encodes OBJECT values as msgpack.
func buildPacketPayload(dt types.DataType, data string) (any, error) {
	switch dt {
	case types.DataRaw:
		return []byte(data), nil
	case types.DataText:
		return data, nil
	case types.DataJSON, types.DataObject:
		var v any
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("--data is not valid JSON for --type=%s: %w", dt, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported data type %s", dt)
	}
}

// buildClientConfig merges flags over the client section of the config file.
func buildClientConfig(c *cli.Context, cfg *config.Config) (client.Config, error) {
	cc := configVal(cfg, func(c *config.Config) config.ClientConfig { return c.Client })

	mode, err := framing.ParseMode(resolveString(c, "framing", cc.Framing))
	if err != nil {
		return client.Config{}, err
	}
	maxAttempts := resolveInt(c, "max-attempts", cc.MaxAttempts)
	if maxAttempts < 0 {
		return client.Config{}, fmt.Errorf("--max-attempts must be >= 0, got %d", maxAttempts)
	}
	maxFrameSize := resolveInt(c, "max-frame-size", cc.MaxFrameSize)
	if maxFrameSize < 0 {
		return client.Config{}, fmt.Errorf("--max-frame-size must be >= 0, got %d", maxFrameSize)
	}

	return client.Config{
		Addr:        resolveString(c, "addr", cc.Addr),
		ChunkSize:   resolveInt(c, "chunk-size", cc.ChunkSize),
		MaxAttempts: maxAttempts,
		Backoff: client.Backoff{
			InitialDelay: resolveDuration(c, "retry-delay", cc.RetryDelay.Duration),
			Multiplier:   resolveFloat(c, "backoff-multiplier", cc.BackoffMultiplier),
			MaxDelay:     cc.MaxDelay.Duration,
			Jitter:       cc.Jitter,
		},
		DialTimeout:  cc.DialTimeout.Duration,
		WriteTimeout: cc.WriteTimeout.Duration,
		MaxFrameSize: maxFrameSize,
		Framing:      mode,
	}, nil
}

// packetPrinter renders each received packet. Render errors are logged.
func packetPrinter(r *render.Renderer, logger *log.Logger) client.Handler {
	return func(pkt *types.Packet, frame []byte) {
		if err := r.RenderPacket(packetView(pkt, frame)); err != nil {
			logger.Warn("render packet failed", map[string]any{"error": err.Error()})
		}
	}
}

// packetView sizes pkt by the frame it arrived in.
func packetView(pkt *types.Packet, frame []byte) render.PacketView {
	return render.NewPacketView(pkt, len(frame), time.Now())
}

// mapClientErr maps client errors to exit codes. Cancellation is a clean exit.
func mapClientErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, client.ErrRetriesExhausted):
		return cli.Exit(err.Error(), exitRetriesExhausted)
	default:
		return cli.Exit(err.Error(), exitRuntimeError)
	}
}
