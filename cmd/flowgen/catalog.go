package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
)

func newCatalogCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local node catalog",
		Long: `The catalog is a SQLite database of n8n node descriptions. It serves
as both the search index and the blob store when those backends are set
to "catalog".`,
	}
	cmd.AddCommand(newCatalogImportCmd(root))
	cmd.AddCommand(newCatalogSearchCmd(root))
	return cmd
}

func newCatalogImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Import node description JSON files",
		Long:  "Walks dir for *.json node descriptions and upserts them by filename. Files that do not parse are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			a := newApp(s, cmd.ErrOrStderr())
			defer a.Close()

			c, err := a.openCatalog()
			if err != nil {
				return err
			}
			res, err := c.ImportDir(cmd.Context(), args[0], a.logger)
			if err != nil {
				return err
			}
			total, err := c.Count(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d node(s), skipped %d; catalog holds %d.\n",
				res.Imported, len(res.Skipped), total)
			for _, name := range res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "  skipped: %s\n", name)
			}
			return nil
		},
	}
}

func newCatalogSearchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Look up nodes without generating a workflow",
		Long:  "Runs the search, fetch and parse stages against the configured backends and prints the nodes found.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			a := newApp(s, cmd.ErrOrStderr())
			defer a.Close()

			index, err := a.searchIndex()
			if err != nil {
				return err
			}
			blobs, err := a.blobStore()
			if err != nil {
				return err
			}
			p, err := a.pipelineWith(noModel{}, index, blobs)
			if err != nil {
				return err
			}
			res, err := p.Lookup(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// noModel satisfies llm.Client for lookups, which never call a model.
type noModel struct{}

func (noModel) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("model calls are disabled for catalog search")
}
