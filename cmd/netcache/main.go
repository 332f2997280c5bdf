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
	"time"

	"github.com/always-cache/netcache"
	"github.com/always-cache/netcache/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configFilenameFlag string
	portFlag           int
	dbFlag             string
	logFileFlag        string
	fetchFlag          string
	verbosityTraceFlag bool
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&dbFlag, "db", "", "Cache database file, \"memory\" for an in-memory database (overrides config)")
	flag.StringVar(&logFileFlag, "log-file", "", "Also write logs to this file (overrides config)")
	flag.StringVar(&fetchFlag, "fetch", "", "Fetch this URL through the cache, print it and exit")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if dbFlag != "" {
		cfg.DB = dbFlag
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
		})
	}
	log.Logger = zerolog.New(out).Level(logLevel).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := netcache.New(cfg, netcache.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create client")
	}
	defer client.Close()

	if fetchFlag != "" {
		if err := fetch(ctx, client, fetchFlag, cfg.RequestTimeout); err != nil {
			log.Error().Err(err).Str("url", fetchFlag).Msg("Fetch failed")
			client.Close()
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, client, cfg.Port); err != nil {
		log.Error().Err(err).Msg("Server stopped")
		client.Close()
		os.Exit(1)
	}
}

func fetch(ctx context.Context, client *netcache.Client, url string, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go client.Run(ctx)

	res, err := client.Get(ctx, url, timeout)
	if err != nil {
		return err
	}
	log.Info().
		Int("status", res.StatusCode).
		Str("cacheStatus", res.CacheStatus.String(client.Engine().Name())).
		Msg("Fetched")
	_, err = os.Stdout.Write(res.Body)
	return err
}

func serve(ctx context.Context, client *netcache.Client, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           client.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(ctx)
	})
	g.Go(func() error {
		log.Info().Msgf("Listening on port %d", port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
