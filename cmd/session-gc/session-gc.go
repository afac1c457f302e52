package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"code.kerpass.org/sessions/internal/observability"
	"code.kerpass.org/sessions/pkg/backend"
	"code.kerpass.org/sessions/pkg/config"
	"code.kerpass.org/sessions/pkg/session/metrics"
	"code.kerpass.org/sessions/pkg/session/retry"
)

const usageFmt = `
Command Usage: %s [Flags]
  Remove expired session records from the configured storage backend.

Flags:
------
`

type Cmd struct {
	Config      *config.Config
	MaxAge      time.Duration
	Every       time.Duration
	MetricsAddr string
}

func parseFlags(progname string, args []string) *Cmd {
	cmd := Cmd{}

	flags := flag.NewFlagSet(progname, flag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, usageFmt, path.Base(progname))
		flags.PrintDefaults()
	}

	var cfgPath string
	flags.StringVar(&cfgPath, "c", "config.yaml", `path of the YAML configuration file`)

	const maxAgeDoc = `
	Age after which a session record is removed.
	Defaults to the gc.max_age configuration value.
	`
	flags.DurationVar(&cmd.MaxAge, "max-age", 0, dedent(maxAgeDoc))

	const everyDoc = `
	Interval between collections, the command runs until interrupted.
	Defaults to the gc.every configuration value, 0 runs a single collection.
	`
	flags.DurationVar(&cmd.Every, "every", -1, dedent(everyDoc))

	flags.StringVar(&cmd.MetricsAddr, "metrics-addr", "", `address where to serve prometheus /metrics`)

	flags.Parse(args)

	cfg, err := config.Load(cfgPath)
	if nil != err {
		log.Fatalf("Failed loading %s, got error %v", cfgPath, err)
	}
	cmd.Config = cfg

	if cmd.MaxAge <= 0 {
		cmd.MaxAge = cfg.GC.MaxAge
	}
	if cmd.Every < 0 {
		cmd.Every = cfg.GC.Every
	}

	return &cmd
}

func main() {
	cmd := parseFlags(os.Args[0], os.Args[1:])

	logger, closer := observability.NewLogger(cmd.Config.Log)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = observability.SetObservability(ctx, &observability.Observability{Logger: logger})
	ctx = observability.WithAttrs(ctx, "backend", cmd.Config.Backend.Kind)

	adapter, err := backend.OpenAdapter(ctx, cmd.Config)
	if nil != err {
		log.Fatalf("Failed opening session backend, got error %v", err)
	}
	defer adapter.Close()

	reg := prometheus.NewRegistry()
	col, err := metrics.NewCollectors(reg)
	if nil != err {
		log.Fatalf("Failed registering metrics, got error %v", err)
	}
	gc := &Collector{
		Adapter: retry.Wrap(metrics.Wrap(adapter, cmd.Config.Backend.Kind, col), retry.Options{}),
		MaxAge:  cmd.MaxAge,
		Every:   cmd.Every,
	}

	if "" != cmd.MetricsAddr {
		srv := &http.Server{
			Addr:              cmd.MetricsAddr,
			Handler:           observability.Middleware{}.Wrap(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			err := srv.ListenAndServe()
			if nil != err && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	err = gc.Run(ctx)
	if nil != err {
		log.Fatalf("Failed session collection, got error %v", err)
	}
}

func dedent(multilines string) string {
	var sb strings.Builder
	for line := range strings.Lines(strings.TrimRightFunc(multilines, unicode.IsSpace)) {
		sb.WriteString(strings.TrimLeftFunc(line, unicode.IsSpace))
	}
	return sb.String()
}
