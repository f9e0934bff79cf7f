// srossim serves a simulated SR OS router over NETCONF framing on TCP, for
// trying srosctl without a device. With --etcd it registers itself in the
// router inventory under --name.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sros-rpc/inventory"
	"sros-rpc/protocol"
	"sros-rpc/server"
	"sros-rpc/simulator"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen   string
		framing  string
		name     string
		etcd     []string
		outputs  []string
		logLevel string
	)
	fs := pflag.NewFlagSet("srossim", pflag.ContinueOnError)
	fs.StringVar(&listen, "listen", "127.0.0.1:8830", "address to listen on")
	fs.StringVar(&framing, "framing", "eom", "message framing: eom or chunked")
	fs.StringVar(&name, "name", "sim1", "router name in the inventory")
	fs.StringSliceVar(&etcd, "etcd", nil, "etcd endpoints to register in")
	fs.StringArrayVar(&outputs, "output", nil, "canned output as 'command=text', repeatable")
	fs.StringVar(&logLevel, "log-level", "info", "log level")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	f, err := protocol.ParseFraming(framing)
	if err != nil {
		return err
	}
	lvl, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	logger, err := zc.Build()
	if err != nil {
		return err
	}
	defer logger.Sync()

	router := simulator.New()
	for _, o := range outputs {
		command, text, ok := strings.Cut(o, "=")
		if !ok {
			return fmt.Errorf("--output %q: want command=text", o)
		}
		router.SetOutput(command, strings.ReplaceAll(text, `\n`, "\n"))
	}

	opts := []server.Option{server.WithLogger(logger)}
	if len(etcd) > 0 {
		inv, err := inventory.NewEtcdInventory(inventory.EtcdConfig{
			Endpoints:   etcd,
			DialTimeout: 5 * time.Second,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("connect inventory: %w", err)
		}
		defer inv.Close()
		opts = append(opts, server.WithInventory(inv, inventory.Router{Name: name}))
	}

	svr := server.NewServer(f, opts...)
	svr.Handle("global-operations", router.Handle)

	l, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	logger.Info("serving", zap.String("addr", l.Addr().String()), zap.Stringer("framing", f))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- svr.Serve(l) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", zap.Int("actions_served", len(router.History())))
	return svr.Shutdown(5 * time.Second)
}
