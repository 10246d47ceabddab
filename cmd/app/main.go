// Package main provides the entry point for the application with CLI commands.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/hivedb/hivedb/cmd/app/commands"
	"github.com/hivedb/hivedb/internal/http"
)

func main() {
	cmd := &cli.Command{
		Name:    "hivedb",
		Usage:   "Multi-tenant encrypted key-value service",
		Version: http.Version,
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "Start the HTTP server",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunServer(ctx, cmd.Root().Version)
				},
			},
			{
				Name:  "migrate",
				Usage: "Run catalog database migrations",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunMigrations()
				},
			},
			{
				Name:  "rotate-master-key",
				Usage: "Rotate the master key (existing encrypted values become unreadable)",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunRotateMasterKey()
				},
			},
			{
				Name:  "create-admin",
				Usage: "Create an administrator account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "username",
						Aliases:  []string{"u"},
						Required: true,
						Usage:    "Administrator username",
					},
					&cli.StringFlag{
						Name:     "email",
						Aliases:  []string{"e"},
						Required: true,
						Usage:    "Administrator email address",
					},
					&cli.StringFlag{
						Name:     "password",
						Aliases:  []string{"p"},
						Required: true,
						Usage:    "Administrator password",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return commands.RunCreateAdmin(
						ctx,
						cmd.String("username"),
						cmd.String("email"),
						cmd.String("password"),
					)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.Any("error", err))
		os.Exit(1)
	}
}
