// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/craftline/production-tracker/internal/config"
	"github.com/craftline/production-tracker/internal/logging"
	"github.com/craftline/production-tracker/internal/persistence/postgres"
	"github.com/craftline/production-tracker/internal/repository"
	"github.com/craftline/production-tracker/internal/seed"
	httptransport "github.com/craftline/production-tracker/internal/transport/http"
	"github.com/craftline/production-tracker/internal/workflow"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type orderItemStore interface {
	workflow.OrderItemStore
	httptransport.OrderItemRegistry
}

type checkStore interface {
	workflow.CheckStore
	httptransport.CheckAdmin
}

type operatorStore interface {
	httptransport.OperatorManager
	httptransport.OperatorResolver
}

// stores is the set of data-store implementations one driver provides.
type stores struct {
	orderItems orderItemStore
	stages     workflow.StageStore
	checks     checkStore
	events     httptransport.EventLister
	operators  operatorStore
	readiness  httptransport.HealthChecker
	close      func()
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env, "api")

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store failed: %v", err)
	}
	defer st.close()

	graph, err := workflow.LoadGraphFile(cfg.StageGraphFile)
	if err != nil {
		log.Fatalf("load stage graph failed: %v", err)
	}

	engine := workflow.New(workflow.Deps{
		Graph:              graph,
		OrderItems:         st.orderItems,
		Stages:             st.stages,
		Checks:             st.checks,
		Logger:             logger,
		StoreTimeout:       cfg.StoreTimeout,
		AllowEarlyDelivery: cfg.AllowEarlyDelivery,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Workflow:         engine,
		OrderItems:       st.orderItems,
		Events:           st.events,
		Operators:        st.operators,
		Checks:           st.checks,
		OperatorResolver: st.operators,
		Readiness:        st.readiness,
		Logger:           logger,
		AdminToken:       cfg.AdminToken,
		StoreTimeout:     cfg.StoreTimeout,
		Version:          Version,
		Commit:           Commit,
		BuildDate:        BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"store", cfg.StoreDriver,
			"stages", len(graph.OrderedStages()),
			"early_delivery", cfg.AllowEarlyDelivery,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		mem := repository.NewMemoryStore()
		n, err := seed.Apply(ctx, mem, seed.Default(), logger)
		if err != nil {
			return stores{}, err
		}
		logger.Warn("using in-memory store, data is lost on restart", "checks_seeded", n)
		return stores{
			orderItems: mem,
			stages:     mem,
			checks:     mem,
			events:     mem,
			operators:  mem,
			close:      func() {},
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, err
	}

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			pool.Close()
			return stores{}, err
		}
	}

	return stores{
		orderItems: repository.NewOrderItemRepository(pool, logger),
		stages:     repository.NewStageRepository(pool, logger),
		checks:     repository.NewCheckRepository(pool, logger),
		events:     repository.NewEventRepository(pool, logger),
		operators:  repository.NewOperatorRepository(pool, logger),
		readiness:  postgres.NewSchemaHealthChecker(pool),
		close:      pool.Close,
	}, nil
}
