package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/AtomicBim/rag-service/config"
	"github.com/AtomicBim/rag-service/internal/pipeline"
	"github.com/AtomicBim/rag-service/internal/rag"
	"github.com/AtomicBim/rag-service/internal/state"
	"github.com/AtomicBim/rag-service/internal/tui"
	"github.com/AtomicBim/rag-service/internal/watch"
)

// errRunFailed is returned when documents failed so scripts see a non-zero exit
var errRunFailed = errors.New("some documents failed to index")

func runIndex(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if root := cmd.String("root"); root != "" {
		cfg.Source.Root = root
	}
	if workers := cmd.Int("workers"); workers > 0 {
		cfg.Pipeline.Workers = int(workers)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	useTUI := cmd.Bool("tui")
	watchMode := cmd.Bool("watch")
	if useTUI && watchMode {
		return errors.New("--tui and --watch cannot be combined")
	}

	logFile := ""
	if useTUI {
		logFile = tuiLogFile(cfg)
	}

	log, err := newLogger(cmd, cfg, logFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	ix, err := openIndexer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer ix.Close()

	full := cmd.Bool("full")

	if useTUI {
		summary, err := tui.NewApp(nil).Run(ctx, func(ctx context.Context, obs pipeline.Observer) (*pipeline.Summary, error) {
			p, err := ix.newPipeline(cfg.Source.Root, cfg.Pipeline.Workers, full, pipeline.Observers{obs, pipeline.NewLoggingObserver(log)})
			if err != nil {
				return nil, err
			}
			return p.Run(ctx)
		})
		return finish(summary, err)
	}

	p, err := ix.newPipeline(cfg.Source.Root, cfg.Pipeline.Workers, full, pipeline.NewLoggingObserver(log))
	if err != nil {
		return err
	}

	summary, err := p.Run(ctx)
	if summary != nil {
		fmt.Println(tui.RenderSummary(summary, nil))
	}

	if !watchMode {
		return finish(summary, err)
	}
	if err != nil {
		return err
	}

	// later runs only look at changed documents
	p, err = ix.newPipeline(cfg.Source.Root, cfg.Pipeline.Workers, false, pipeline.NewLoggingObserver(log))
	if err != nil {
		return err
	}

	w, err := watch.New(cfg.Source.Root, ix.scanner.Ignored, cfg.Watch.Debounce, log)
	if err != nil {
		return err
	}
	defer w.Close()

	err = w.Run(ctx, func(ctx context.Context) error {
		summary, err := p.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return nil
		}
		if summary != nil && summary.Failed > 0 {
			log.Warn("documents failed in watched run", zap.Int("failed", summary.Failed))
		}
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// finish turns the outcome of a run into the command error
func finish(summary *pipeline.Summary, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) && summary != nil {
			return fmt.Errorf("run interrupted after %d documents: %w", len(summary.Results), err)
		}
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errRunFailed, summary.Failed, len(summary.Results))
	}
	return nil
}

func runReset(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	dropCollection := cmd.Bool("collection")

	if !cmd.Bool("force") {
		prompt := fmt.Sprintf("Remove indexing state at %s", cfg.State.Path)
		if dropCollection {
			prompt += fmt.Sprintf(" and drop collection %q", cfg.Vector.Collection)
		}
		if !confirm(prompt + "? [y/N] ") {
			fmt.Println("Aborted")
			return nil
		}
	}

	log = log.With(zap.String("action", "reset"))

	if dropCollection {
		store, err := openVectorStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DropCollection(ctx); err != nil {
			return fmt.Errorf("failed to drop collection: %w", err)
		}
		log.Info("collection dropped", zap.String("collection", cfg.Vector.Collection))
	}

	st, err := state.Open(cfg.State.Backend, cfg.State.Path, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reset(); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	log.Info("state reset", zap.String("path", cfg.State.Path))

	fmt.Println("Reset complete")
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("search requires a query")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := newLogger(cmd, cfg, "")
	if err != nil {
		return err
	}
	defer log.Sync()

	embedder, err := openEmbedder(cfg, log)
	if err != nil {
		return err
	}
	defer embedder.Close()

	store, err := openVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	k := cfg.Processing.TopK
	if n := cmd.Int("k"); n > 0 {
		k = int(n)
	}

	retriever := rag.NewRetriever(embedder, store, k, log)

	retrieve := retriever.Retrieve
	if cmd.Bool("hybrid") {
		retrieve = retriever.RetrieveHybrid
	}

	results, err := retrieve(ctx, query, k)
	if err != nil {
		return err
	}

	builder := rag.NewContextBuilder(0)

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(builder.BuildRequest(query, results))
	}

	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	fmt.Println(builder.BuildContext(results))
	return nil
}

func runConfigInit(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}

	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
