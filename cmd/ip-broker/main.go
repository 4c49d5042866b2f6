// Command ip-broker serves IP geolocation lookups through the healthiest
// available provider.
//
// Usage:
//
//	ip-broker [serve]     start the HTTP API (default)
//	ip-broker demo        run the two-phase load demo against the simulated providers
//	ip-broker token       print a bearer token signed with AUTH_JWT_SECRET
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
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/upb/ip-broker/app"
	"github.com/upb/ip-broker/config"
	"github.com/upb/ip-broker/middleware"
	"github.com/upb/ip-broker/routes"
	"github.com/upb/ip-broker/services/providers"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ip-broker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "demo":
		deps, err := app.NewDependencies(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = deps.Close(ctx) }()
		return runDemo(ctx, deps, out, defaultDemoPlan())
	case "token":
		return issueToken(cfg, args, out)
	default:
		return fmt.Errorf("unknown command %q (want serve, demo or token)", command)
	}
}

// initLogger builds the process logger. format is "json" or "console".
func initLogger(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var zcfg zap.Config
	switch format {
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	case "json", "":
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	return zcfg.Build()
}

func newHTTPServer(cfg *config.Config, deps *app.Dependencies) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           routes.SetupRoutes(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := newHTTPServer(cfg, deps)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("ip-broker listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return deps.Close(shutdownCtx)
}

func issueToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("subject", "demo-client", "token subject")
	scope := fs.String("scope", "lookup", "token scope")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !cfg.AuthEnabled() {
		return errors.New("AUTH_JWT_SECRET is not set")
	}

	issuer := middleware.NewHMACValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	token, err := issuer.IssueToken(*subject, *scope, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// demoPhase sends Requests lookups for IP, one every Spacing.
type demoPhase struct {
	IP       string
	Requests int
	Spacing  time.Duration
}

type demoPlan struct {
	Phases []demoPhase
	Pause  time.Duration
}

func defaultDemoPlan() demoPlan {
	return demoPlan{
		Phases: []demoPhase{
			{IP: "8.8.8.8", Requests: 12, Spacing: 50 * time.Millisecond},
			{IP: "1.1.1.1", Requests: 15, Spacing: 50 * time.Millisecond},
		},
		Pause: 500 * time.Millisecond,
	}
}

// runDemo fires each phase's lookups concurrently, prints every outcome and
// the provider statistics once the phase has drained.
func runDemo(ctx context.Context, deps *app.Dependencies, out io.Writer, plan demoPlan) error {
	var mu sync.Mutex
	printf := func(format string, a ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, a...)
	}

	for i, phase := range plan.Phases {
		if i > 0 && !sleep(ctx, plan.Pause) {
			return ctx.Err()
		}

		printf("== phase %d: %d requests for %s ==\n", i+1, phase.Requests, phase.IP)

		g, gctx := errgroup.WithContext(ctx)
		for n := 0; n < phase.Requests; n++ {
			g.Go(func() error {
				result, err := deps.Routing.HandleRequest(gctx, phase.IP)
				if err != nil {
					printf("request for %s failed: %v\n", phase.IP, err)
					return nil
				}
				printf("request #%d served by %s in %dms\n", result.RequestNumber, result.Provider, result.LatencyMs)
				return nil
			})
			if n < phase.Requests-1 && !sleep(ctx, phase.Spacing) {
				break
			}
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		mu.Lock()
		err := printStats(out, deps.Routing.Stats())
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func printStats(out io.Writer, stats []providers.Snapshot) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tREQ/MIN\tSUCCESS\tERROR RATE\tAVG LATENCY\tERRORS 5M")
	for _, s := range stats {
		latency := "n/a"
		if s.HasLatency() {
			latency = fmt.Sprintf("%.1fms", s.AvgLatencyLast5Min)
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%.1f%%\t%s\t%d\n",
			s.Name,
			s.RequestsLastMinute, s.MaxRequestsPerMinute,
			s.SuccessesLastMinute,
			s.ErrorRateLastMinute*100,
			latency,
			s.ErrorCountLast5Min)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out, strings.Repeat("-", 72))
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
