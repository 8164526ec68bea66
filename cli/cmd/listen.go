package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tcplite/cli/render"
	"github.com/justapithecus/tcplite/cli/tui"
	"github.com/justapithecus/tcplite/client"
	"github.com/justapithecus/tcplite/log"
	"github.com/justapithecus/tcplite/metrics"
	"github.com/justapithecus/tcplite/types"
)

// ListenCommand returns the listen command, which prints every packet the
// relay forwards.
func ListenCommand() *cli.Command {
	flags := append(clientFlags(), OutputFlags()...)
	return &cli.Command{
		Name:   "listen",
		Usage:  "Print packets received from the relay",
		Flags:  flags,
		Action: listenAction,
	}
}

func listenAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, cfg, "client")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	clientCfg, err := buildClientConfig(c, cfg)
	if err != nil {
		return usageError("invalid client config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("client", clientCfg.Addr, string(clientCfg.Framing))

	if c.Bool(TUIFlag.Name) {
		return listenTUI(ctx, clientCfg, collector)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return usageError("%v", err)
	}

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
		<-ctx.Done()
		return nil
	})
	logger.Info("client stopped", cl.Stats().Fields())
	return mapClientErr(err)
}

// listenTUI drives the live view. Logs are discarded while the alternate
// screen is active; a fatal client error is shown in the view and returned
// after the user quits.
func listenTUI(ctx context.Context, cfg client.Config, collector *metrics.Collector) error {
	prog := tui.NewProgram(cfg.Addr)

	cl, err := client.New(cfg, func(pkt *types.Packet, frame []byte) {
		prog.Send(tui.PacketMsg{View: packetView(pkt, frame)})
	},
		client.WithLogger(log.NewNop()),
		client.WithCollector(collector),
	)
	if err != nil {
		return usageError("%v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopQuit := context.AfterFunc(ctx, prog.Quit)
	defer stopQuit()

	var (
		wg        sync.WaitGroup
		clientErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		clientErr = watchClient(ctx, cl, prog.Send)
	}()

	runErr := prog.Run()
	cancel()
	_ = cl.Close()
	wg.Wait()

	if runErr != nil {
		return cli.Exit(runErr.Error(), exitRuntimeError)
	}
	return mapClientErr(clientErr)
}

// watchClient starts cl and reports its state through send until ctx ends
// or the client fails.
func watchClient(ctx context.Context, cl *client.Client, send func(tea.Msg)) error {
	if err := cl.Start(ctx); err != nil {
		send(tui.StatusMsg{State: tui.StateFailed, Err: err})
		return err
	}
	send(tui.StatusMsg{State: tui.StateConnected})

	select {
	case <-ctx.Done():
		return nil
	case <-cl.Done():
		if err := cl.Err(); err != nil {
			send(tui.StatusMsg{State: tui.StateFailed, Err: err})
			return err
		}
		send(tui.StatusMsg{State: tui.StateClosed})
		return nil
	}
}
