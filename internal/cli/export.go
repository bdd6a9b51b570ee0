// ABOUTME: export command writing a stored conversation as json, markdown, text or html
// ABOUTME: Loads conversations straight from the database without connecting

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/conversation"
	"github.com/2389/coven-chorus/internal/export"
	"github.com/2389/coven-chorus/internal/store"
)

func newExportCmd(g *globals) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation transcript",
		Long: `Export a conversation transcript.

Examples:
  chorus export 2f1c... --format markdown
  chorus export 2f1c... --format html --output debate.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}

			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			convs := conversation.NewStore(conversation.Options{Persister: catalog.Store()})
			if _, err := convs.Load(ctx); err != nil {
				return err
			}
			conv, err := convs.Get(args[0])
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer file.Close()
				w = file
			}

			if err := export.Write(w, conv, f, personaNames(ctx, catalog)); err != nil {
				return fmt.Errorf("exporting conversation: %w", err)
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", conv.ID, output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "json, markdown, text or html")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// personaNames maps persona ids to display names for transcripts.
func personaNames(ctx context.Context, catalog *store.Catalog) export.Names {
	names := export.Names{}
	personas, err := catalog.ListPersonas(ctx)
	if err != nil {
		return names
	}
	for _, p := range personas {
		names[p.ID] = p.Name
	}
	return names
}
