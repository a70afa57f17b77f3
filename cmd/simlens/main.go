// Package main provides the simlens command line, a local image similarity
// search tool.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ramon-reichert/simlens/internal/platform/config"
	"github.com/ramon-reichert/simlens/internal/platform/logger"
	"github.com/ramon-reichert/simlens/internal/service"
	"github.com/ramon-reichert/simlens/internal/service/builder"
	"github.com/ramon-reichert/simlens/internal/service/search"
)

const usage = `usage: simlens <command> [flags] [args]

commands:
  index <folder>        rebuild the catalog from every image below folder
  add <image>...        add images to the current catalog
  search <image>        find indexed images similar to image
  search -id <id>       find images similar to an indexed image
  stats                 show catalog size and schema
  diagnose              check stored vectors for degenerate output
  clear                 delete the catalog`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, usage)
		}
		fmt.Printf("\nERROR: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	log := logger.New()

	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend: badger, sqlite, redis, file or memory")
	fs.StringVar(&cfg.Extractor, "extractor", cfg.Extractor, "feature extractor: histogram or kronk")
	fs.StringVar(&cfg.Catalog, "catalog", cfg.Catalog, "catalog name")

	var (
		topK    int
		id      string
		samples int
	)

	switch cmd {
	case "search":
		fs.IntVar(&topK, "k", cfg.TopK, "number of results")
		fs.StringVar(&id, "id", "", "search by indexed image id")
		fs.BoolVar(&cfg.Remap01, "remap", cfg.Remap01, "report similarities on a 0-1 scale")
		fs.BoolVar(&cfg.ProductCodeBoost, "boost", cfg.ProductCodeBoost, "boost matches sharing the query's product code")
	case "index", "add":
		fs.IntVar(&cfg.BatchSize, "batch", cfg.BatchSize, "images extracted concurrently")
	case "diagnose":
		fs.IntVar(&samples, "n", service.DefaultDiagnoseSamples, "records to inspect")
	case "stats", "clear":
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %w", err, errUsage)
	}

	svc, err := service.Open(ctx, log, cfg)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer closeService(log, svc.Close)

	switch cmd {
	case "index":
		if fs.NArg() != 1 {
			return fmt.Errorf("index needs one folder: %w", errUsage)
		}

		report, err := svc.RebuildIndex(ctx, fs.Arg(0))
		printReport(report)
		return err

	case "add":
		if fs.NArg() == 0 {
			return fmt.Errorf("add needs at least one image: %w", errUsage)
		}

		report, err := svc.AddFiles(ctx, fs.Args()...)
		printReport(report)
		return err

	case "search":
		var (
			res search.Result
			err error
		)

		switch {
		case id != "":
			res, err = svc.SearchByID(ctx, id, topK)
		case fs.NArg() == 1:
			res, err = svc.SearchFile(ctx, fs.Arg(0), topK)
		default:
			return fmt.Errorf("search needs one image or -id: %w", errUsage)
		}

		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		printResult(res)
		return nil

	case "stats":
		st := svc.Stats()
		fmt.Printf("images:     %d\n", st.Count)
		fmt.Printf("schema:     %s\n", st.SchemaVersion)
		fmt.Printf("dimension:  %d\n", st.Dimension)
		fmt.Printf("generation: %s\n", st.Generation)
		return nil

	case "diagnose":
		d, err := svc.Diagnose(ctx, samples)
		if err != nil {
			return fmt.Errorf("diagnose: %w", err)
		}

		printDiagnosis(d)
		return nil

	case "clear":
		return svc.ClearIndex(ctx)
	}

	return nil
}

// closeService releases the service and logs what could not be released.
func closeService(log logger.Logger, closeFn func(context.Context) error) {
	ctx := context.Background()
	if err := closeFn(ctx); err != nil {
		log(ctx, "close service", "error", err)
	}
}

func printReport(r builder.Report) {
	fmt.Printf("\n%d succeeded, %d failed in %s (run %s)\n", r.Succeeded, r.Failed, r.Elapsed.Round(time.Millisecond), r.RunID)

	for _, f := range r.Failures {
		fmt.Printf("  failed  %s: %v\n", f.ID, f.Err)
	}

	for _, w := range r.Warnings {
		fmt.Printf("  WARNING %s\n", w)
	}

	if r.Degenerate() {
		fmt.Println("\nthe extractor may be producing degenerate vectors, search results will not be meaningful")
	}
}

func printResult(res search.Result) {
	if len(res.Matches) == 0 {
		fmt.Println("nothing indexed yet")
		return
	}

	for i, m := range res.Matches {
		fmt.Printf("%3d. %.4f  %s\n", i+1, m.Similarity, m.ID)
	}

	fmt.Printf("\nscored %d, mean %.4f, spread %.4f\n", res.Scored, res.Mean, res.Spread)

	if res.LowConfidence {
		fmt.Println("LOW CONFIDENCE: all similarities are nearly equal, the index may be corrupt")
	}
}

func printDiagnosis(d service.Diagnosis) {
	fmt.Printf("images: %d  schema: %s/%d\n\n", d.Stats.Count, d.Stats.SchemaVersion, d.Stats.Dimension)

	for _, s := range d.Samples {
		fmt.Printf("  %s\n    min %.4f max %.4f mean %.4f stddev %.6f unique %d\n",
			s.ID, s.Stats.Min, s.Stats.Max, s.Stats.Mean, s.Stats.StdDev, s.Stats.UniqueCount)
	}

	if len(d.PairIDs) == 2 {
		fmt.Printf("\nfirst pair similarity: %.4f\n", d.PairSimilarity)
	}

	if d.Degenerate {
		fmt.Println("\nDEGENERATE: rebuild the index with a working extractor")
	}
}
