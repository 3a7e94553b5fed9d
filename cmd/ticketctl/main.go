package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ticket-classifier/backend/internal/app"
	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/pipeline"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/pkg/config"
	"github.com/ticket-classifier/backend/pkg/logger"
)

func main() {
	cliApp := &cli.App{
		Name:  "ticketctl",
		Usage: "Administer the ticket classification backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "retrain",
				Usage:  "Run one incremental retraining pass",
				Action: retrainCommand,
			},
			{
				Name:   "cluster",
				Usage:  "Group the tickets in a batch file by similarity",
				Action: clusterCommand,
				Flags: []cli.Flag{
					fileFlag(),
					&cli.IntFlag{
						Name:  "max-clusters",
						Usage: "Largest number of groups to consider",
						Value: 5,
					},
				},
			},
			{
				Name:   "label",
				Usage:  "Label a batch file with the external labeler and store it as training data",
				Action: labelCommand,
				Flags:  []cli.Flag{fileFlag()},
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    `Path to a JSON batch ({"tickets": [...]})`,
		Required: true,
	}
}

func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(c.String("log-level"), "console", "stderr"); err != nil {
		return err
	}
	defer logger.Sync()

	ctx := c.Context
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	return fn(ctx, a)
}

func readBatch(path string) ([]models.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return pipeline.ParseBatch(data)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func retrainCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		result, err := a.Trainer.Retrain(ctx)
		if errors.Is(err, apperrors.ErrNoTrainingData) {
			fmt.Println("No new training data since the last pass.")
			return nil
		}
		if err != nil {
			return err
		}
		return printJSON(result)
	})
}

func clusterCommand(c *cli.Context) error {
	tickets, err := readBatch(c.String("file"))
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		if len(tickets) == 1 {
			return printJSON([][]models.Ticket{tickets})
		}
		groups, err := a.Clustering.Cluster(ctx, tickets, c.Int("max-clusters"))
		if err != nil {
			return err
		}
		return printJSON(groups)
	})
}

func labelCommand(c *cli.Context) error {
	tickets, err := readBatch(c.String("file"))
	if err != nil {
		return err
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		outcome, err := a.Labeling.Label(ctx, tickets)
		if outcome != nil {
			if perr := printJSON(outcome); perr != nil {
				return perr
			}
		}
		return err
	})
}
