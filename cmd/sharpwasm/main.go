package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lovell/sharp-sub001/bridge"
)

type options struct {
	wasm        string
	config      string
	call        string
	args        argList
	mounts      argList
	list        bool
	interactive bool
	metrics     string
	logLevel    string
}

func main() {
	var o options
	flag.StringVar(&o.wasm, "wasm", "", "Path to the addon's wasm module")
	flag.StringVar(&o.config, "config", "", "TOML configuration file")
	flag.StringVar(&o.call, "call", "", "Exported function to call")
	flag.Var(&o.args, "arg", "Argument literal for -call (repeatable): number, true, false, null, undefined or string")
	flag.Var(&o.mounts, "mount", "Host directory to mount, host:guest[:ro] (repeatable)")
	flag.BoolVar(&o.list, "list", false, "List the addon's exports and exit")
	flag.BoolVar(&o.interactive, "i", false, "Interactive export browser")
	flag.StringVar(&o.metrics, "metrics", "", "Serve prometheus metrics on this address, e.g. :9090")
	flag.StringVar(&o.logLevel, "log", "", "Log level, overrides the configuration")
	flag.Parse()

	if o.wasm == "" {
		fmt.Fprintln(os.Stderr, "Usage: sharpwasm -wasm <addon.wasm> [-config file] [-mount host:guest[:ro]] -call name [-arg v]... [-- guest args]")
		fmt.Fprintln(os.Stderr, "       sharpwasm -wasm <addon.wasm> -list")
		fmt.Fprintln(os.Stderr, "       sharpwasm -wasm <addon.wasm> -i  (interactive mode)")
		os.Exit(2)
	}

	cfg, err := bridge.LoadConfig(o.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.FS.Mounts = append(cfg.FS.Mounts, o.mounts...)
	cfg.Process.Args = append(cfg.Process.Args, flag.Args()...)
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.metrics != "" {
		cfg.Metrics.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if o.interactive {
		if err := runInteractive(cfg, o.wasm); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	bridge.SetLoggers(logger)

	code, err := run(cfg, &o, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	logger.Sync()
	os.Exit(code)
}

func newLogger(lc bridge.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.OutputPaths = []string{"stderr"}
	if lc.Level != "" {
		level, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

// run loads the addon, makes the requested call and returns the process
// exit code.
func run(cfg *bridge.Config, o *options, logger *zap.Logger) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(o.wasm)
	if err != nil {
		return 1, fmt.Errorf("read module: %w", err)
	}

	var opts []bridge.Option
	if o.metrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, bridge.WithRegistry(reg))
		srv := serveMetrics(o.metrics, reg, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
	}

	b, err := bridge.New(ctx, cfg, opts...)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := b.Close(context.Background()); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}()

	if err := b.Instantiate(ctx, data); err != nil {
		return exitStatus(err, "instantiate")
	}
	if missing := b.MissingImports(); len(missing) > 0 {
		logger.Warn("addon imports functions the host does not provide", zap.Strings("imports", missing))
	}

	get := getterFor(b)
	if o.list || o.call == "" {
		for _, name := range b.ExportNames() {
			v, err := b.Export(ctx, name)
			if err != nil {
				return 1, err
			}
			fmt.Printf("%s: %s\n", name, formatValue(ctx, get, v))
		}
		return 0, nil
	}

	args, err := parseArgs(o.args)
	if err != nil {
		return 2, err
	}
	result, err := b.Call(ctx, o.call, args...)
	if err != nil {
		return exitStatus(err, "call "+o.call)
	}
	fmt.Println(formatValue(ctx, get, result))
	return 0, nil
}

// exitStatus turns a guest exit into its status code. Any other error
// is status 1.
func exitStatus(err error, what string) (int, error) {
	var exit *bridge.ExitError
	if stderrors.As(err, &exit) {
		return int(exit.Code), nil
	}
	return 1, fmt.Errorf("%s: %w", what, err)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
