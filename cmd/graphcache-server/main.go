// Command graphcache-server runs the online social graph cache behind a
// small HTTP API, backed by Redis as the authoritative follow-list
// store.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/calvinalkan/graphcache/internal/config"
	"github.com/calvinalkan/graphcache/internal/followstore"
	"github.com/calvinalkan/graphcache/internal/graph/core"
	"github.com/calvinalkan/graphcache/internal/httpapi"
)

func main() {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	log := zap.Must(logConfig.Build())
	defer log.Sync() //nolint:errcheck
	log = log.Named("main")

	cfg := config.FromEnv()

	store := followstore.New(cfg.RedisAddr, cfg.RedisDB, log)
	defer store.Close()

	g := core.New(store, cfg.LogCapacity, log, cfg.LoadTimeout)

	r := httpapi.NewRouter(g, store, cfg, log)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
