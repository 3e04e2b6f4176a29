// Command bazaar-authority runs the entitlement authority: the grant
// store and the HTTP endpoint the gateway consults for plugin
// entitlement decisions.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/plugbazaar/bazaar/pkg/grants"
)

func main() {
	port := flag.String("port", "8081", "Port to listen on")
	dbDriver := flag.String("db-driver", "postgres", "Database driver (postgres or sqlite3)")
	dbDSN := flag.String("db-dsn", "", "Database connection string")
	seedFile := flag.String("seed", "", "Optional YAML grant file applied at startup")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *dbDSN == "" {
		logger.Fatal("-db-dsn is required")
	}

	db, err := sql.Open(*dbDriver, *dbDSN)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		logger.WithError(err).Fatal("failed to ping database")
	}
	cancel()

	store := grants.NewSQLStore(db)

	if *seedFile != "" {
		n, err := grants.SeedFromFile(context.Background(), store, *seedFile)
		if err != nil {
			logger.WithError(err).Fatal("failed to seed grants")
		}
		logger.WithFields(logrus.Fields{"file": *seedFile, "grants": n}).Info("seeded grants")
	}

	router := mux.NewRouter()
	grants.NewHandlers(store, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("entitlement authority listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
