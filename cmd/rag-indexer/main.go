package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/AtomicBim/rag-service/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newCommand builds the command tree
func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "rag-indexer",
		Usage: "Keep a vector index synchronized with a tree of documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the config file",
				Value:   config.DefaultPath(),
				Sources: cli.EnvVars("RAG_INDEXER_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable development logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "Index new and changed documents",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "root",
						Usage: "Source tree to index (overrides config)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Documents processed in parallel (overrides config)",
					},
					&cli.BoolFlag{
						Name:  "tui",
						Usage: "Show interactive progress",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and reindex when the tree changes",
					},
					&cli.BoolFlag{
						Name:  "full",
						Usage: "Reprocess documents even when unchanged",
					},
				},
				Action: runIndex,
			},
			{
				Name:  "reset",
				Usage: "Forget indexing state so every document is reprocessed",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "collection",
						Usage: "Also drop the vector collection",
					},
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Do not ask for confirmation",
					},
				},
				Action: runReset,
			},
			{
				Name:      "search",
				Usage:     "Search the index",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "k",
						Aliases: []string{"n"},
						Usage:   "Number of results (overrides config)",
					},
					&cli.BoolFlag{
						Name:  "hybrid",
						Usage: "Keep only results sharing a keyword with the query",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the answer-generation request body",
					},
				},
				Action: runSearch,
			},
			{
				Name:  "config",
				Usage: "Manage the config file",
				Commands: []*cli.Command{
					{
						Name:  "init",
						Usage: "Write the default config",
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
						Action: runConfigInit,
					},
				},
			},
		},
	}
}
