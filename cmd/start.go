package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cmu-db/peloton-sub010/engine"
	"github.com/cmu-db/peloton-sub010/repl"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Recover or bootstrap the database and take periodic checkpoints",
		RunE:  startRun,
	}

	shellCmd = &cobra.Command{
		Use:   "shell",
		Short: "Run with an interactive console session",
		RunE:  shellRun,
	}

	finalCheckpoint = true
)

func init() {
	startCmd.Flags().BoolVar(&finalCheckpoint, "final-checkpoint", finalCheckpoint,
		"take a checkpoint before shutting down")
	shellCmd.Flags().BoolVar(&finalCheckpoint, "final-checkpoint", finalCheckpoint,
		"take a checkpoint before shutting down")

	pelotonCmd.AddCommand(startCmd, shellCmd)
}

func startEngine(ctx context.Context) (*engine.Engine, error) {
	e, err := engine.NewEngine(cfg, params)
	if err != nil {
		return nil, fmt.Errorf("peloton: %s", err)
	}
	err = e.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("peloton: %s", err)
	}
	return e, nil
}

func stopEngine(ctx context.Context, e *engine.Engine) error {
	e.Stop()
	if !finalCheckpoint {
		return nil
	}

	rec, err := e.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("peloton: final checkpoint: %s", err)
	}
	log.WithField("epoch", rec.Epoch).Info("peloton: final checkpoint")
	return nil
}

func startRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := startEngine(ctx)
	if err != nil {
		return err
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	fmt.Println("peloton: waiting for ^C to shutdown")
	<-ch
	go func() {
		<-ch
		os.Exit(0)
	}()

	fmt.Println("peloton: shutting down")
	return stopEngine(ctx, e)
}

func shellRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := startEngine(ctx)
	if err != nil {
		return err
	}

	repl.Interact(ctx, e)
	return stopEngine(ctx, e)
}
