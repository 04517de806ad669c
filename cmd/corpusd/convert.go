package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newConvertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "convert",
		Short: "Convert a JSON conversation on stdin into source text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func (a *app) runConvert(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	payload, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if !json.Valid(payload) {
		return errors.New("stdin is not valid JSON")
	}

	content, err := a.newConverter(nil).Generate(ctx, json.RawMessage(payload))
	if err != nil {
		return reportError(stderr, err)
	}
	_, err = io.WriteString(stdout, content)
	return err
}
