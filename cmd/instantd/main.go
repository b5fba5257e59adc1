// Command instantd runs the Instant chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/config"
	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/server"
)

const defaultPort = 8080

func main() {
	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:      "instantd",
		Usage:     "multi-room WebSocket chat server",
		Version:   server.Version,
		ArgsUsage: "[port]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Aliases: []string{"H"},
				Value:   "*",
				Usage:   "interface to listen on ('*' for all)",
			},
			&cli.StringFlag{
				Name:    "webroot",
				Aliases: []string{"r"},
				Value:   ".",
				Usage:   "directory served ahead of the embedded pages",
			},
			&cli.StringFlag{
				Name:  "http-log",
				Value: "-",
				Usage: "access log destination ('-' for stderr)",
			},
			&cli.StringFlag{
				Name:  "debug-log",
				Value: "-",
				Usage: "debug log destination ('-' for stderr)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"L"},
				Value:   "INFO",
				Usage:   "minimum log level (FINEST..SEVERE or DEBUG..ERROR)",
			},
			&cli.StringFlag{
				Name:    "startup-cmd",
				Aliases: []string{"c"},
				Usage:   "command to run once the server is listening",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	port := defaultPort
	if arg := cmd.Args().First(); arg != "" {
		p, err := strconv.Atoi(arg)
		if err != nil || p < 1 || p > 65535 {
			return cli.Exit(fmt.Sprintf("invalid port %q", arg), 1)
		}
		port = p
	}

	if err := logging.Initialize(cmd.String("log-level"), cmd.String("debug-log")); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	accessLogger, err := logging.NewAccessLogger(cmd.String("http-log"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	cfg, err := config.Load()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	cfg.Host = cmd.String("host")
	cfg.Port = port
	cfg.Webroot = cmd.String("webroot")

	srv, err := server.New(cfg, accessLogger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()

	if startup := cmd.String("startup-cmd"); startup != "" {
		if err := runStartupCmd(ctx, startup); err != nil {
			logging.Error(ctx, "Startup command failed", zap.String("cmd", startup), zap.Error(err))
			stop()
			<-errc
			return cli.Exit("startup command failed", 2)
		}
	}

	if err := <-errc; err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logging.Info(ctx, "Shutdown complete")
	return nil
}

// runStartupCmd executes the post-listen hook, whitespace-split, with the
// server's stdio.
func runStartupCmd(ctx context.Context, command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	c := exec.CommandContext(ctx, fields[0], fields[1:]...)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}

func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}
