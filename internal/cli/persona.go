// ABOUTME: persona add, list and delete commands
// ABOUTME: Personas reference a model connection by id

package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/store"
)

func newPersonaCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Manage personas",
	}
	cmd.AddCommand(newPersonaAddCmd(g), newPersonaListCmd(g), newPersonaDeleteCmd(g))
	return cmd
}

func newPersonaAddCmd(g *globals) *cobra.Command {
	var (
		p           store.Persona
		temperature float64
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update a persona",
		Long: `Add or update a persona.

Examples:
  chorus persona add skeptic --name Skeptic --model gpt4 --prompt "Question every claim."
  chorus persona add optimist --name Optimist --model gpt4 --temperature 0.9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if _, err := catalog.GetModel(ctx, p.ModelID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: model %q is not configured\n", p.ModelID)
			}

			p.ID = args[0]
			if p.Name == "" {
				p.Name = p.ID
			}
			p.Parameters = store.DefaultParameters()
			p.Parameters.Temperature = temperature
			if maxTokens > 0 {
				p.Parameters.MaxTokens = &maxTokens
			}
			if err := catalog.PutPersona(ctx, &p); err != nil {
				return fmt.Errorf("saving persona: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved persona %s (%s)\n", p.ID, p.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&p.Name, "name", "n", "", "display name")
	cmd.Flags().StringVarP(&p.ModelID, "model", "m", "", "model connection id")
	cmd.Flags().StringVarP(&p.SystemPrompt, "prompt", "p", "", "system prompt")
	cmd.Flags().StringVar(&p.Avatar, "avatar", "", "avatar URL or emoji")
	cmd.Flags().StringVar(&p.ConversationStyle, "style", "", "conversation style hint")
	cmd.Flags().Float64Var(&temperature, "temperature", store.DefaultParameters().Temperature, "sampling temperature")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum tokens per reply (0 for model default)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newPersonaListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			personas, err := catalog.ListPersonas(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing personas: %w", err)
			}
			if len(personas) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No personas configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tTEMPERATURE")
			for _, p := range personas {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", p.ID, p.Name, p.ModelID, p.Parameters.Temperature)
			}
			return w.Flush()
		},
	}
}

func newPersonaDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a persona",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, closeFn, err := g.openCatalog()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := catalog.DeletePersona(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("deleting persona: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted persona %s\n", args[0])
			return nil
		},
	}
}
