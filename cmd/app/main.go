package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/md2html/internal"
	pkgconfig "github.com/starford/md2html/pkg/config"
)

// localConfigFile is picked up from the working directory when present.
const localConfigFile = "_md2html.json"

func run(ctx context.Context, cmd *cli.Command) error {
	cfg := internal.NewDefaultConfig()

	// Cascade: defaults → ./_md2html.json → --config file → CLI flags.
	explicit := cmd.String("config")
	if err := pkgconfig.LoadCascade(cfg, explicit, localConfigFile, explicit); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	applyFlags(cfg, cmd)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return internal.Run(ctx, internal.WithConfig(cfg))
}

// applyFlags overlays explicitly-set CLI flags, the highest-priority
// layer of the cascade.
func applyFlags(cfg *internal.Config, cmd *cli.Command) {
	if args := cmd.Args().Slice(); len(args) > 0 {
		cfg.Inputs = args
	}
	if cmd.IsSet("output") {
		cfg.Output = cmd.String("output")
	}
	if cmd.IsSet("output-dir") {
		cfg.OutputDir = cmd.String("output-dir")
	}
	if cmd.IsSet("recursive") {
		cfg.Recursive = cmd.Bool("recursive")
	}
	if cmd.IsSet("watch") {
		cfg.Watch = cmd.Bool("watch")
	}
	if cmd.IsSet("serve") {
		cfg.Serve = cmd.Bool("serve")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("execute") {
		cfg.Execute = cmd.Bool("execute")
	}
	if cmd.IsSet("jekyll") {
		cfg.Jekyll = cmd.Bool("jekyll")
	}
	if cmd.IsSet("no-overwrite") {
		cfg.ForceOverwrite = !cmd.Bool("no-overwrite")
	}
	if cmd.IsSet("verbose") {
		cfg.Verbose = cmd.Bool("verbose")
	}
	if cmd.IsSet("dry-run") {
		cfg.DryRun = cmd.Bool("dry-run")
	}
	if cmd.IsSet("templates") {
		cfg.TemplatesDir = cmd.String("templates")
	}
	if cfg.Serve {
		cfg.Watch = true
	}
}

func main() {
	cmd := &cli.Command{
		Name:      "md2html",
		Usage:     "Markdown to HTML converter with include/execute directives, incremental rebuilds, and a dev server",
		ArgsUsage: "[files or directories...]",
		Action:    run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file (single input) or directory",
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"O"},
				Usage:   "Output directory root for multiple inputs",
			},
			&cli.BoolFlag{
				Name:    "recursive",
				Aliases: []string{"r"},
				Usage:   "Process directories recursively",
			},
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Watch files for changes and rebuild",
			},
			&cli.BoolFlag{
				Name:    "serve",
				Aliases: []string{"s"},
				Usage:   "Start development server (implies --watch)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Server port",
				Value:   8000,
			},
			&cli.BoolFlag{
				Name:    "execute",
				Aliases: []string{"e"},
				Usage:   "Execute embedded code blocks",
			},
			&cli.BoolFlag{
				Name:    "jekyll",
				Aliases: []string{"j"},
				Usage:   "Jekyll compatibility mode",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Sources: cli.EnvVars("MD2HTML_CONFIG_FILE"),
			},
			&cli.BoolFlag{
				Name:    "no-overwrite",
				Aliases: []string{"n"},
				Usage:   "Don't overwrite existing files",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Verbose output",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Print the resolved build graph as JSON without building",
			},
			&cli.StringFlag{
				Name:  "templates",
				Usage: "Templates directory (searched before ./templates)",
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if !errors.Is(err, internal.ErrBuildFailed) {
			slog.Error("application error", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
