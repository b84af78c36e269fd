package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/serhiybutz/docindexer/internal/output"
)

func newPropsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "props",
		Short: "Read or replace document properties",
	}
	cmd.AddCommand(newPropsGetCmd(a))
	cmd.AddCommand(newPropsSetCmd(a))
	return cmd
}

func newPropsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <document>",
		Short: "Print the properties of a document as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := parseDocumentArg(args[0])
			if err != nil {
				return err
			}

			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			props, err := ix.DocumentProperties(ctx, ref)
			if err != nil {
				return err
			}
			if props == nil {
				props = map[string]any{}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(props)
		},
	}
}

func newPropsSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <document> key=value...",
		Short: "Replace the properties of a document",
		Long: `Replaces all properties of an indexed document. Values that parse as
JSON (numbers, booleans, arrays) keep their type; anything else is stored as
a string.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ref, err := parseDocumentArg(args[0])
			if err != nil {
				return err
			}
			props, err := parseProperties(args[1:])
			if err != nil {
				return err
			}

			ix, closeIndex, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeIndex() }()

			if err := ix.SetDocumentProperties(ctx, ref, props); err != nil {
				return err
			}
			if err := ix.Flush(ctx); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Set %d properties on %s", len(props), ref)
			return nil
		},
	}
}

func parseProperties(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		props[key] = v
	}
	return props, nil
}
