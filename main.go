package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pliu/pairchat/internal/chat"
	"github.com/pliu/pairchat/internal/config"
	"github.com/pliu/pairchat/internal/store"
	"github.com/pliu/pairchat/internal/store/badgerstore"
	"github.com/pliu/pairchat/internal/store/sqlstore"
	"github.com/pliu/pairchat/internal/ws"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}

	wsHandler := &ws.Handler{
		Registry: chat.NewRegistry(),
		Store:    st,
		Cfg:      cfg,
	}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.HandleFunc("/ws", wsHandler.ServeWs)
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticPath)))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("pairchat server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Everyone still marked online in the store is gone now.
	if err := st.MarkAllOffline(time.Now()); err != nil {
		log.Error().Err(err).Msg("could not mark users offline")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("store close")
	}
	log.Info().Msg("server exited gracefully")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "badger":
		return badgerstore.New(cfg.StoreDSN)
	case "sqlite3", "postgres":
		return sqlstore.New(cfg.StoreDriver, cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}
