package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/crystal-mush/mushscript/pkg/bindings"
	"github.com/crystal-mush/mushscript/pkg/boltstore"
	"github.com/crystal-mush/mushscript/pkg/config"
	"github.com/crystal-mush/mushscript/pkg/dispatch"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/metrics"
	"github.com/crystal-mush/mushscript/pkg/scripthost"
	"github.com/crystal-mush/mushscript/pkg/scripting"
	"github.com/crystal-mush/mushscript/pkg/sqlstore"
	"github.com/crystal-mush/mushscript/pkg/trigfile"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	confFile := flag.String("conf", envDefault("MUSHSCRIPT_CONF", ""), "Path to YAML config file (env: MUSHSCRIPT_CONF)")
	envFile := flag.String("env", ".env", "Optional dotenv file loaded before the config")
	metricsAddr := flag.String("metrics", "", "Metrics listen address, overrides config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARNING: could not load %s: %v", *envFile, err)
	}
	cfg, err := config.Load(*confFile)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	loader, dir, closeLoader, err := openLoader(cfg)
	if err != nil {
		log.Fatalf("Error opening triggers: %v", err)
	}
	defer closeLoader()

	var vars dispatch.VarStore
	if cfg.VarsPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.VarsPath), 0o755); err != nil {
			log.Fatalf("Error creating %s: %v", filepath.Dir(cfg.VarsPath), err)
		}
		bs, err := boltstore.Open(cfg.VarsPath)
		if err != nil {
			log.Fatalf("Error opening variable store: %v", err)
		}
		defer bs.Close()
		vars = bs
		log.Printf("Trigger variables persisted to %s", bs.Path())
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, time.Now())

	host, err := scripthost.New(scripthost.Options{
		Config:   cfg,
		Loader:   loader,
		Vars:     vars,
		World:    gamedb.NewWorld(),
		Metrics:  m,
		Bindings: []scripting.Binding{bindings.NewOutput(os.Stdout)},
	})
	if err != nil {
		log.Fatalf("Error starting script host: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		host.Run()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down script host")
		host.Shutdown()
		return nil
	})

	if dir != nil && cfg.WatchTriggers {
		if err := dir.Watch(gctx, host.Invalidate); err != nil {
			log.Printf("WARNING: trigger reload disabled: %v", err)
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			m.Update()
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Printf("Metrics listening on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("scriptd: %v", err)
	}
	log.Printf("scriptd stopped")
}

// openLoader opens the configured trigger source. dir is non-nil for the
// YAML source so the caller can watch it.
func openLoader(cfg *config.Config) (trigger.Loader, *trigfile.Dir, func(), error) {
	switch cfg.TriggerSource {
	case config.SourceSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath, cfg.SQLTimeout)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("Loading triggers from SQLite %s", s.Path())
		return s, nil, func() { s.Close() }, nil
	default:
		d, err := trigfile.Open(cfg.TriggerDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return d, d, func() {}, nil
	}
}
