package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	gendismix "github.com/ieee0824/gendismix-go"
	"github.com/ieee0824/gendismix-go/optimizer"
	"github.com/ieee0824/gendismix-go/runstore"
	"github.com/ieee0824/gendismix-go/trainer"
)

func main() {
	fgPath := flag.String("fg", "", "foreground FASTA (fixed-length sequences)")
	bgPath := flag.String("bg", "", "background FASTA (same length as foreground)")
	gen := flag.Float64("gen", 0.1, "generative weight")
	dis := flag.Float64("dis", 0.8, "discriminative weight (prior weight = 1 - gen - dis)")
	eps := flag.Float64("eps", 1e-6, "relative improvement that ends training")
	threads := flag.Int("threads", trainer.DefaultThreads(), "objective worker threads (1-128)")
	essFG := flag.Float64("essFG", 4, "equivalent sample size of the foreground prior")
	essBG := flag.Float64("essBG", 4, "equivalent sample size of the background prior")
	order := flag.Int("order", 0, "background Markov order")
	free := flag.Bool("free", false, "drop one redundant parameter per distribution")
	algorithm := flag.String("algorithm", "bfgs", "optimiser: steepest, cg-fr, cg-pr, bfgs, dfp, lbfgs")
	memory := flag.Int("memory", 10, "lbfgs history length (3-10)")
	starts := flag.Int("starts", 1, "number of optimisation starts")
	initName := flag.String("init", "plugin", "initialisation of the first start: plugin, random, zero")
	seed := flag.Uint64("seed", 1, "random seed")
	maxIter := flag.Int("iter", 0, "max optimiser iterations (0 = until convergence)")
	output := flag.String("out", "gendismix.gob", "output classifier path")
	classifyPath := flag.String("classify", "", "optional FASTA file to classify with the trained classifier")
	dbPath := flag.String("db", "", "optional SQLite run ledger")
	flag.Parse()

	if *fgPath == "" || *bgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: gdmtrain -fg fg.fa -bg bg.fa [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	alg, err := optimizer.ParseAlgorithm(*algorithm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	how, err := trainer.ParseInit(*initName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg := trainer.DefaultConfig()
	cfg.Threads = *threads
	cfg.Algorithm = alg
	cfg.Memory = *memory
	cfg.Epsilon = *eps
	cfg.Starts = *starts
	cfg.Init = how
	cfg.Seed = *seed
	cfg.MaxIterations = *maxIter
	cfg.Progress = os.Stderr

	opts := []gendismix.Option{
		gendismix.WithConfig(cfg),
		gendismix.WithWeights(*gen, *dis),
		gendismix.WithESS(*essFG, *essBG),
		gendismix.WithBackgroundOrder(*order),
		gendismix.WithFreeParams(*free),
	}
	if *dbPath != "" {
		store, err := runstore.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open run ledger: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, gendismix.WithRunStore(store))
	}
	tr, err := gendismix.New(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	tr.ModelPath = *output

	if err := run(tr, *fgPath, *bgPath, *output, *classifyPath, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(tr *gendismix.Trainer, fgPath, bgPath, output, classifyPath string, out io.Writer) error {
	cl, res, err := tr.TrainFASTA(context.Background(), fgPath, bgPath)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := cl.SaveFile(output); err != nil {
		return fmt.Errorf("save classifier: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Run %s: value=%.8g, saved to %s\n", res.RunID, res.Value, output)

	if classifyPath == "" {
		return nil
	}
	preds, err := gendismix.ClassifyFASTA(cl, tr.Alphabet, classifyPath)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	return gendismix.WritePredictions(out, preds)
}
