package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/converter"
	"github.com/MikeSquared-Agency/corpusd/internal/corpus"
	"github.com/MikeSquared-Agency/corpusd/internal/processor"
)

func newScanCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Convert the corpus once and print it as JSON",
		Long: `Walk the corpus root, convert every file and print the resulting corpus.
On failure the error object is written to stderr and the exit status is 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the corpus to this file instead of stdout")

	return cmd
}

func (a *app) runScan(ctx context.Context, stdout, stderr io.Writer, out string) error {
	scanner := corpus.NewScanner(a.cfg.Root, a.newConverter(nil), a.logger)
	proc := processor.New(scanner, nil, nil, nil, a.logger)

	result, err := proc.Scan(ctx, processor.TriggerCLI)
	if err != nil {
		return reportError(stderr, err)
	}

	if out == "" {
		return writeCorpus(stdout, result)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := writeCorpus(f, result); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func writeCorpus(w io.Writer, c *conversation.Corpus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	return nil
}

// reportError writes err's wire form to w.
func reportError(w io.Writer, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(converter.ResponseFor(err)); encErr != nil {
		return err
	}
	return errReported
}
