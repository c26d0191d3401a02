package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/ieee0824/gendismix-go/runstore"
)

func main() {
	dbPath := flag.String("db", "gendismix.db", "SQLite run ledger")
	limit := flag.Int("limit", 20, "number of runs to list (0 = all)")
	best := flag.Bool("best", false, "show only the run with the highest objective value")
	algorithm := flag.String("algorithm", "", "restrict -best to one optimiser")
	id := flag.String("id", "", "show a single run")
	flag.Parse()

	store, err := runstore.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open run ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	var runs []runstore.Run
	switch {
	case *id != "":
		u, err := uuid.Parse(*id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad run id: %v\n", err)
			os.Exit(2)
		}
		r, err := store.Get(ctx, u)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		runs = append(runs, r)
	case *best:
		r, err := store.Best(ctx, *algorithm)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		runs = append(runs, r)
	default:
		runs, err = store.List(ctx, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list runs: %v\n", err)
			os.Exit(1)
		}
	}
	printRuns(os.Stdout, runs)
}

func printRuns(w io.Writer, runs []runstore.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tBETA(gen/disc/prior)\tALG\tT\tN\tVALUE\tITER\tSTARTS\tSTATUS\tRUNTIME\tMODEL")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%.2f/%.2f/%.2f\t%s\t%d\t%d\t%.6g\t%d\t%d\t%s\t%v\t%s\n",
			r.ID, r.Started.Format(time.DateTime), r.Beta.Gen, r.Beta.Disc, r.Beta.Prior,
			r.Algorithm, r.Threads, r.Sequences, r.Value, r.Iterations, len(r.StartValues),
			r.Status, r.Runtime, r.ModelPath)
	}
	tw.Flush()
}
