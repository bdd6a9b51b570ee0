// ABOUTME: model add, list and delete commands
// ABOUTME: Model connections are stored in the catalog and registered on demand

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/store"
)

func newModelCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage model connections",
	}
	cmd.AddCommand(newModelAddCmd(g), newModelListCmd(g), newModelDeleteCmd(g))
	return cmd
}

func newModelAddCmd(g *globals) *cobra.Command {
	var m store.ModelConfig

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update a model connection",
		Long: `Add or update a model connection.

Examples:
  chorus model add gpt4 --name gpt-4o --provider openai --api-key "$OPENAI_API_KEY"
  chorus model add local --name llama3 --provider ollama --base-url http://localhost:11434`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			m.ID = args[0]
			if m.Name == "" {
				m.Name = m.ID
			}
			m.DefaultParams = store.DefaultParameters()
			if err := catalog.PutModel(cmd.Context(), &m); err != nil {
				return fmt.Errorf("saving model: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved model %s (%s via %s)\n", m.ID, m.Name, m.Provider)
			return nil
		},
	}

	cmd.Flags().StringVarP(&m.Name, "name", "n", "", "model name sent to the provider")
	cmd.Flags().StringVarP(&m.Provider, "provider", "p", "", "provider: openai, anthropic, ollama, lmstudio, custom")
	cmd.Flags().StringVar(&m.BaseURL, "base-url", "", "provider base URL")
	cmd.Flags().StringVar(&m.APIKey, "api-key", "", "provider API key")
	cmd.Flags().IntVar(&m.ContextWindowSize, "context-window", 8192, "context window size in tokens")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newModelListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List model connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			models, err := catalog.ListModels(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing models: %w", err)
			}
			if len(models) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No models configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tCONTEXT")
			for _, m := range models {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.ID, m.Name, m.Provider, m.ContextWindowSize)
			}
			return w.Flush()
		},
	}
}

func newModelDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a model connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := catalog.DeleteModel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting model: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted model %s\n", args[0])
			return nil
		},
	}
}
