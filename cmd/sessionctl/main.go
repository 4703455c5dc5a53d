package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/go-session-client/authtest"
	"github.com/jrsteele09/go-session-client/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: sessionctl [flags] <command>

commands:
  login     sign in and store the session
  status    show the stored session
  lock      lock the session now
  unlock    unlock the session
  logout    end the session
  run       open the session dashboard behind the lock screen

flags:
`

type flags struct {
	configPath  string
	dev         bool
	metricsAddr string
	username    string
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("sessionctl failed")
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("Recovered from panic: %v", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	var f flags
	fs := flag.NewFlagSet("sessionctl", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", config.PathFromEnv(), "TOML config file")
	fs.BoolVar(&f.dev, "dev", false, "run against an in-process auth service")
	fs.StringVar(&f.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.username, "user", "", "username for login")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("expected one command")
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	settings, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	setupLogging(settings)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.dev {
		dev, err := startDevServer(settings)
		if err != nil {
			return err
		}
		defer dev.Close()
	}

	reg := prometheus.NewRegistry()
	if f.metricsAddr != "" {
		server := &http.Server{Addr: f.metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go listenAndServe(server)
		defer shutdown(server)
	}

	t, err := openTab(ctx, settings, reg)
	if err != nil {
		return err
	}
	defer t.close()

	cmd := command(fs.Arg(0))
	if cmd == nil {
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}
	if fs.Arg(0) == "run" {
		displayAppname(settings.GetAppName())
	}
	return cmd(ctx, t, f)
}

// setupLogging writes human-readable logs in DEV and JSON everywhere else.
func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// startDevServer runs the fake auth service and points settings at it.
func startDevServer(settings *config.Settings) (*authtest.Server, error) {
	dev, err := authtest.New()
	if err != nil {
		return nil, err
	}
	settings.BaseURL = dev.BaseURL()
	settings.PushURL = dev.EventsURL()
	if settings.StoreKind == config.StoreKindFile || settings.StoreKind == config.StoreKindSQLite {
		// Tokens minted by a throwaway server are meaningless to the next run.
		settings.StoreKind = config.StoreKindMemory
	}
	log.Info().Str("base_url", settings.BaseURL).Strs("users", authtest.SeedUsernames).
		Str("password", authtest.DefaultPassword).Msg("dev auth service started")
	return dev, nil
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("metrics listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func shutdown(server *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
