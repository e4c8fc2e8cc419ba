package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chunkd/chunkd/core/uploadserver"
	"github.com/chunkd/chunkd/lib/logger"
)

var log, _ = logger.New("chunkd")

func main() {
	app := &cli.App{
		Name:  "chunkd",
		Usage: "Chunked upload session and reassembly service",
		Commands: []*cli.Command{
			serveCmd,
			artifactsCmd,
			sweepCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}

func run() error {
	cfg, err := uploadserver.GetConfig()
	if err != nil {
		log.Errorw("startup", "error", "config error")
		return err
	}

	server, err := uploadserver.NewUploadServer(cfg)
	if err != nil {
		return err
	}
	defer server.Close()

	api := NewAPI(server)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: api.Routes(),
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go server.Janitor.Start(janitorCtx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()

	log.Infow("startup", "status", "chunkd http server started", "address", addr)
	defer log.Infow("shutdown", "status", "chunkd http server stopped", "address", addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-shutdown:
	}

	log.Infow("shutdown", "status", "chunkd http server stopping", "address", addr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
