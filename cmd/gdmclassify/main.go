package main

import (
	"flag"
	"fmt"
	"os"

	gendismix "github.com/ieee0824/gendismix-go"
	"github.com/ieee0824/gendismix-go/classifier"
	"github.com/ieee0824/gendismix-go/sequence"
)

func main() {
	modelPath := flag.String("model", "gendismix.gob", "trained classifier")
	input := flag.String("input", "", "FASTA file to classify")
	symbols := flag.String("alphabet", sequence.DNA.Symbols(), "alphabet symbols")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: gdmclassify -model gendismix.gob -input seqs.fa")
		os.Exit(2)
	}
	alphabet := sequence.DNA
	if *symbols != sequence.DNA.Symbols() {
		a, err := sequence.NewAlphabet(*symbols)
		if err != nil {
			fmt.Fprintf(os.Stderr, "alphabet: %v\n", err)
			os.Exit(2)
		}
		alphabet = a
	}

	cl, err := classifier.LoadFile(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load classifier: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Classifier: %d classes, %d parameters, last score %.6g\n",
		cl.NumClasses(), cl.NumberOfParameters(), cl.LastScore())

	preds, err := gendismix.ClassifyFASTA(cl, alphabet, *input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "classify: %v\n", err)
		os.Exit(1)
	}
	counts := make([]int, cl.NumClasses())
	for _, p := range preds {
		counts[p.Class]++
	}
	if err := gendismix.WritePredictions(os.Stdout, preds); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Sequences per class: %v\n", counts)
}
