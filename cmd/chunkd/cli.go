package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chunkd/chunkd/core/uploadserver"
)

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Run the upload HTTP server",
	Action: func(ctx *cli.Context) error {
		return run()
	},
}

var artifactsCmd = &cli.Command{
	Name:  "artifacts",
	Usage: "List all merged artifacts",
	Action: func(ctx *cli.Context) error {
		server, err := openServer()
		if err != nil {
			return err
		}
		defer server.Close()

		artifacts, err := server.Artifacts.All(context.Background())
		if err != nil {
			return err
		}

		for _, artifact := range artifacts {
			fmt.Printf("%s\t%d\t%s\t%s\n", artifact.Name, artifact.Size, artifact.Checksum, artifact.CreatedAt.Format(time.RFC3339))
		}

		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "Remove sessions idle longer than the session TTL",
	Action: func(ctx *cli.Context) error {
		server, err := openServer()
		if err != nil {
			return err
		}
		defer server.Close()

		removed := server.Janitor.Sweep()
		fmt.Println("removed sessions:", removed)

		return nil
	},
}

func openServer() (*uploadserver.UploadServer, error) {
	cfg, err := uploadserver.GetConfig()
	if err != nil {
		return nil, err
	}

	return uploadserver.NewUploadServer(cfg)
}
