package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sremani/chengis/internal/runtime"
	"github.com/sremani/chengis/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.FullVersion())
		return
	}

	rt, err := runtime.New()
	if err != nil {
		log.Fatalf("initialise runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)

	var metricsSrv *http.Server
	if rt.Config.MetricsEnabled {
		metricsSrv = &http.Server{Addr: rt.Config.MetricsAddr, Handler: rt.Metrics.Handler()}
		go func() {
			rt.Log.WithField("addr", rt.Config.MetricsAddr).Info("chengisd: metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rt.Log.WithError(err).Error("chengisd: metrics server failed")
			}
		}()
	}

	rt.Log.Info("chengisd: core runtime started")
	<-ctx.Done()
	rt.Log.Info("chengisd: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if err := rt.Shutdown(shutdownCtx); err != nil {
		rt.Log.WithError(err).Error("chengisd: shutdown error")
		os.Exit(1)
	}
}
