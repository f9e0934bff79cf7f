// srosctl sends SR OS global-operations actions to a router.
//
//	srosctl [flags] raw <command words...>
//	srosctl [flags] compare [--src S] [--src-type T] [--dst D] [--dst-type T]
//	                        [--format xml|md-cli] [--region R] [--path P]
//
// Settings come from defaults, then the TOML file named by --config, then
// SROSCTL_* environment variables, then flags. The router address is taken
// from --address, a [[routers]] entry in the config file, or the etcd
// inventory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"sros-rpc/client"
	"sros-rpc/inventory"
	"sros-rpc/message"
	"sros-rpc/middleware"
	"sros-rpc/protocol"
	"sros-rpc/sros"
)

// errUsage marks command-line mistakes; they exit 2 like invalid arguments.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	err := execute(args, stdout, stderr)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, pflag.ErrHelp):
		return 0
	case errors.Is(err, errUsage), errors.Is(err, sros.ErrInvalidArgument):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

type globalFlags struct {
	config   string
	router   string
	address  string
	framing  string
	timeout  time.Duration
	rate     float64
	burst    int
	etcd     []string
	dryRun   bool
	logLevel string
}

func (g *globalFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&g.config, "config", os.Getenv("SROSCTL_CONFIG"), "TOML config file")
	fs.StringVar(&g.router, "router", "", "router name to look up in the inventory")
	fs.StringVar(&g.address, "address", "", "host:port of the router NETCONF endpoint")
	fs.StringVar(&g.framing, "framing", "", "message framing: eom or chunked")
	fs.DurationVar(&g.timeout, "timeout", 0, "per-request timeout")
	fs.Float64Var(&g.rate, "rate", 0, "requests per second, 0 for no limit")
	fs.IntVar(&g.burst, "burst", 0, "rate limiter burst")
	fs.StringSliceVar(&g.etcd, "etcd", nil, "etcd endpoints of the router inventory")
	fs.BoolVar(&g.dryRun, "dry-run", false, "print the payload instead of sending it")
	fs.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn or error")
}

// overlay copies the flags given on the command line onto cfg.
func (g *globalFlags) overlay(fs *pflag.FlagSet, cfg *config) {
	if fs.Changed("router") {
		cfg.Router = g.router
	}
	if fs.Changed("address") {
		cfg.Address = g.address
	}
	if fs.Changed("framing") {
		cfg.Framing = g.framing
	}
	if fs.Changed("timeout") {
		cfg.Timeout = g.timeout
	}
	if fs.Changed("rate") {
		cfg.Rate = g.rate
	}
	if fs.Changed("burst") {
		cfg.Burst = g.burst
	}
	if fs.Changed("etcd") {
		cfg.EtcdEndpoints = normalizeList(g.etcd)
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
}

func execute(args []string, stdout, stderr io.Writer) error {
	var g globalFlags
	fs := pflag.NewFlagSet("srosctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	g.register(fs)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: srosctl [flags] raw <command...> | compare [compare flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	cfg := defaultConfig()
	if g.config != "" {
		if err := loadFile(g.config, &cfg); err != nil {
			return err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return err
	}
	g.overlay(fs, &cfg)

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("%w: missing command", errUsage)
	}
	act, err := parseAction(rest[0], rest[1:], stderr)
	if err != nil {
		return err
	}

	if g.dryRun {
		return writePayload(stdout, act.payload)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	defer logger.Sync()

	ctx := context.Background()
	router, err := resolveRouter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	framing, err := protocol.ParseFraming(router.Framing)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	mws := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.Rate > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Rate, cfg.Burst))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Timeout))
	}

	c, err := client.Dial(ctx, router.Addr,
		client.WithFraming(framing),
		client.WithLogger(logger),
		client.WithMiddleware(mws...))
	if err != nil {
		return fmt.Errorf("dial %s: %w", router.Addr, err)
	}
	defer c.Close()

	reply, err := act.send(ctx, sros.New(c))
	if err != nil {
		return err
	}
	return writeReply(stdout, reply)
}

type action struct {
	payload *etree.Element
	send    func(ctx context.Context, ops *sros.Operations) (*message.Reply, error)
}

func parseAction(name string, args []string, stderr io.Writer) (*action, error) {
	switch name {
	case "raw":
		if len(args) == 0 {
			return nil, fmt.Errorf("%w: raw needs a command", errUsage)
		}
		command := strings.Join(args, " ")
		return &action{
			payload: sros.BuildRawCommand(command),
			send: func(ctx context.Context, ops *sros.Operations) (*message.Reply, error) {
				return ops.MdCliRawCommand(ctx, command)
			},
		}, nil

	case "compare":
		var req sros.CompareRequest
		var srcType, dstType, format string
		fs := pflag.NewFlagSet("compare", pflag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&req.Src, "src", "", "source value (default baseline)")
		fs.StringVar(&srcType, "src-type", "", "source kind: configuration_region, url or rollback")
		fs.StringVar(&req.Dst, "dst", "", "destination value (default candidate)")
		fs.StringVar(&dstType, "dst-type", "", "destination kind (default url)")
		fs.StringVar(&format, "format", "", "response format: xml or md-cli")
		fs.StringVar(&req.ConfigurationRegion, "region", "", "configuration region (default configure)")
		fs.StringVar(&req.Path, "path", "", "subtree path, e.g. /configure/router")
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		if fs.NArg() > 0 {
			return nil, fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
		}
		req.SrcType = sros.TargetKind(srcType)
		req.DstType = sros.TargetKind(dstType)
		req.ResponseFormat = sros.Format(format)

		payload, err := sros.BuildCompare(req)
		if err != nil {
			return nil, err
		}
		return &action{
			payload: payload,
			send: func(ctx context.Context, ops *sros.Operations) (*message.Reply, error) {
				return ops.MdCompare(ctx, req)
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

// resolveRouter picks the endpoint: --address first, then the static routers
// from the config file, then etcd.
func resolveRouter(ctx context.Context, cfg config, logger *zap.Logger) (inventory.Router, error) {
	if cfg.Address != "" {
		return inventory.Router{Name: cfg.Router, Addr: cfg.Address, Framing: cfg.Framing}, nil
	}
	if cfg.Router == "" {
		return inventory.Router{}, fmt.Errorf("%w: set --address or --router", errUsage)
	}

	var inv inventory.Inventory
	switch {
	case len(cfg.Routers) > 0:
		inv = inventory.NewStaticInventory(cfg.Routers...)
	case len(cfg.EtcdEndpoints) > 0:
		etcdInv, err := inventory.NewEtcdInventory(inventory.EtcdConfig{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
			Logger:      logger,
		})
		if err != nil {
			return inventory.Router{}, fmt.Errorf("connect inventory: %w", err)
		}
		defer etcdInv.Close()
		inv = etcdInv
	default:
		return inventory.Router{}, fmt.Errorf("%w: router %s: no [[routers]] in config and no etcd endpoints", errUsage, cfg.Router)
	}

	router, err := inv.Lookup(ctx, cfg.Router)
	if err != nil {
		return inventory.Router{}, err
	}
	if router.Framing == "" {
		router.Framing = cfg.Framing
	}
	return router, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	zc.Encoding = "console"
	return zc.Build()
}

func writePayload(w io.Writer, payload *etree.Element) error {
	doc := etree.NewDocument()
	doc.SetRoot(payload)
	if _, err := doc.WriteTo(w); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

// writeReply prints MD-CLI output blocks as plain text and anything else as
// indented XML.
func writeReply(w io.Writer, reply *message.Reply) error {
	var out []*etree.Element
	if reply.Data != nil {
		out = append(out, reply.Data)
	}
	out = append(out, reply.Output...)

	if len(out) == 0 {
		if reply.OK {
			_, err := fmt.Fprintln(w, "ok")
			return err
		}
		return nil
	}

	for _, e := range out {
		if blocks := e.FindElements(".//md-cli-output-block"); len(blocks) > 0 {
			for _, b := range blocks {
				if _, err := io.WriteString(w, b.Text()); err != nil {
					return err
				}
			}
			continue
		}
		doc := etree.NewDocument()
		doc.SetRoot(e.Copy())
		doc.Indent(2)
		if _, err := doc.WriteTo(w); err != nil {
			return err
		}
	}
	return nil
}
