// ABOUTME: Root cobra command and state shared by every subcommand
// ABOUTME: Loads config lazily and opens the catalog database per command

package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/2389/coven-chorus/internal/config"
	"github.com/2389/coven-chorus/internal/logging"
	"github.com/2389/coven-chorus/internal/store"
)

// Version is set at build time.
var Version = "dev"

// globals holds state shared by every subcommand.
type globals struct {
	configPath string
	verbose    bool

	cfg *config.Config
}

// load reads the config file, falling back to defaults when it is absent.
func (g *globals) load() (*config.Config, error) {
	if g.cfg != nil {
		return g.cfg, nil
	}
	path := g.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if g.verbose {
		cfg.Logging.Level = "debug"
	}
	g.cfg = cfg
	return cfg, nil
}

// openCatalog opens the configured database for catalog commands.
func (g *globals) openCatalog() (*store.Catalog, func(), error) {
	cfg, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewCatalog(s), func() { _ = s.Close() }, nil
}

// logger builds the process logger from config.
func (g *globals) logger(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.Setup(cfg.Logging)
}

// NewRootCommand builds the chorus command tree.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:   "chorus",
		Short: "Multi-agent conversation client",
		Long: `Chorus runs conversations between several AI personas through a
multi-agent backend.

Personas and model connections are kept in a local database. The backend
picks who speaks next; chorus asks for turns, streams the replies and keeps
the transcript.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (default $CHORUS_CONFIG or ~/.config/chorus/config.yaml)")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newHealthCmd(g))
	root.AddCommand(newExportCmd(g))
	root.AddCommand(newPersonaCmd(g))
	root.AddCommand(newModelCmd(g))
	root.AddCommand(newTokenCmd(g))

	return root
}

// Execute runs the root command with args, writing to out.
func Execute(args []string, out io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(out)
	return root.Execute()
}
