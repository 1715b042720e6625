// Command tiercache runs a multi-tier byte cache behind a Redis-protocol
// listener: memory first, then an optional shared Redis, then a size-bounded
// SQLite file, then an optional HTTP origin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	asynchook "github.com/unkn0wn-root/tiercache/hooks/async"
	promhooks "github.com/unkn0wn-root/tiercache/hooks/prometheus"
	"github.com/unkn0wn-root/tiercache/internal/config"
	"github.com/unkn0wn-root/tiercache/internal/logging"
	"github.com/unkn0wn-root/tiercache/internal/resp"
	tlogrus "github.com/unkn0wn-root/tiercache/log/logrus"
)

type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run returns the process exit code.
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "init logger: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		logger.WithFields(logrus.Fields{
			"action":  "check_config",
			"config":  opts.configPath,
			"backend": cfg.Memory.Backend,
			"redis":   cfg.Redis.Enabled(),
			"origin":  cfg.Origin.Enabled(),
			"result":  "ok",
		}).Info("config ok")
		return 0
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := promhooks.New(reg, "tiercache")
	hooks := asynchook.New(metrics, 2, 1024)
	defer hooks.Close()

	layers, err := buildLayers(ctx, cfg, logger, metrics)
	if err != nil {
		fmt.Fprintf(stdErr, "build layers: %v\n", err)
		return 1
	}

	cache, err := tiercache.New(tiercache.Options[[]byte]{
		Layers: layers,
		Codec:  codec.Bytes{},
		Logger: tlogrus.New(logger),
		Hooks:  hooks,
	})
	if err != nil {
		closeLayers(context.Background(), layers, logger)
		fmt.Fprintf(stdErr, "build cache: %v\n", err)
		return 1
	}

	logger.WithFields(logrus.Fields{
		"action":  "startup",
		"config":  opts.configPath,
		"layers":  cache.Layers(),
		"version": fullVersion(),
	}).Info("cache ready")

	var metricsSrv *http.Server
	if cfg.Global.MetricsAddr != "" {
		metricsSrv = startMetrics(cfg.Global.MetricsAddr, reg, logger)
	}

	code := 0
	if err := resp.Run(ctx, cfg.Global.ListenAddr, cache, logger); err != nil {
		logger.WithError(err).Error("resp server failed")
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Global.ShutdownTimeout.DurationValue())
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("metrics server shutdown")
		}
	}
	if err := cache.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("cache close")
		code = 1
	}
	logger.WithField("action", "shutdown").Info("bye")
	return code
}

func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tiercache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "config file path (default ./tiercache.toml, overridden by TIERCACHE_CONFIG)")
	fs.BoolVar(&checkOnly, "check-config", false, "validate the config and exit")
	fs.BoolVar(&showVer, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("parse flags: %w", err)
	}

	path := os.Getenv("TIERCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "tiercache.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startMetrics(addr string, reg *prometheus.Registry, logger *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.WithFields(logrus.Fields{"action": "listen", "addr": addr}).Info("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
