// Package cli attaches the node's cobra subcommands (run, status),
// following the teacher's convention of a flat pkg/cli package reused
// by both the service binary and a standalone operator CLI.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rtcluster/coordinator/pkg/bootstrap"
	"github.com/rtcluster/coordinator/pkg/config"
	"github.com/rtcluster/coordinator/pkg/transport/httpjson"
)

// AddAll attaches every cluster subcommand to root.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
}

// NewRunCmd returns the "run" command that brings a node online and
// blocks until it receives a termination signal (§4.8).
func NewRunCmd() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			n, err := bootstrap.Start(ctx, cfg, bootstrap.Platform{}, log.Default())
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}

			fmt.Printf("node %s running. press Ctrl+C to exit.\n", n.Node.UUID())
			<-ctx.Done()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return n.Stop(shutdownCtx)
		},
	}
	config.RegisterFlags(cmd, &cfg)
	return cmd
}

// NewStatusCmd returns the "status" command, an operator-facing client
// for another node's /status endpoint.
func NewStatusCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "fetch a node's status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			client := httpjson.NewClient(timeout)
			data, err := client.GetStatus(ctx, addr)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			os.Stdout.Write(data)
			if len(data) == 0 || data[len(data)-1] != '\n' {
				os.Stdout.Write([]byte("\n"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9511", "operator HTTP address of a node (host:port)")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
