// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/tambola-live/tambola-service/internal/auth"
	"github.com/tambola-live/tambola-service/internal/cache"
	"github.com/tambola-live/tambola-service/internal/handlers"
	"github.com/tambola-live/tambola-service/internal/middleware"
	"github.com/tambola-live/tambola-service/internal/store"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	ctx := context.Background()

	var st store.Store
	pg, err := store.ConnectPostgres(ctx)
	if err != nil {
		logger.WithError(err).Warn("postgres unavailable, falling back to in-memory store")
		mem := store.NewMemoryStore()
		defer mem.Close()
		st = mem
	} else {
		defer pg.Close()
		st = pg
	}

	audit, err := cache.Connect(ctx)
	if err != nil {
		logger.WithError(err).Warn("redis unavailable, command audit disabled")
		audit = nil
	} else {
		defer audit.Close()
	}

	srv := handlers.NewServer(logger, st, audit)
	defer srv.Shutdown()

	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(logger))

	r.Get("/health", srv.HealthHandler)
	r.Post("/host/token", srv.HostTokenHandler)

	r.Post("/game/init", srv.InitGameHandler)
	r.Get("/game/state", srv.GameStateHandler)
	r.Post("/game/command", srv.CommandHandler)
	r.Post("/game/phase/{transition}", srv.PhaseHandler)
	r.Post("/game/calling/{action}", srv.CallingHandler)
	r.Put("/game/calling/delay", srv.CallDelayHandler)
	r.Post("/game/booking", srv.BookingHandler)
	r.Put("/game/booking", srv.BookingHandler)
	r.Delete("/game/booking", srv.BookingHandler)

	r.Get("/game/ws", srv.GameWSHandler)

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpSrv := &http.Server{Addr: addr, Handler: r}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Running on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
}
