// Command cityforge synthesizes cities from a handful of parameters and
// serves them, with live traffic, over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/talgya/cityforge/internal/config"
	"github.com/talgya/cityforge/internal/entropy"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "cityforge",
		Short:         "Procedural city layouts with traffic and utility overlays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")

	load := func() (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg.ApplyEnv(os.Getenv)
		if err := setupLogger(cfg); err != nil {
			return cfg, err
		}
		if cfg.Seed == 0 {
			cfg.Seed = entropy.NewSeed(context.Background(), entropy.NewClient(cfg.RandomKey))
			slog.Info("seed chosen", "seed", cfg.Seed)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(generateCmd(load))
	rootCmd.AddCommand(inspectCmd(load))
	rootCmd.AddCommand(adviseCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setupLogger installs the default slog logger: text on a terminal, JSON
// otherwise, unless the config forces one.
func setupLogger(cfg config.Config) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Log.Format
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			format = "text"
		}
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

type loader func() (config.Config, error)

func serveCmd(load loader) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulation and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func generateCmd(load loader) *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize one city and write a preview and project file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runGenerate(cmd, cfg, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.size, "size", 0, "grid size")
	f.Float64Var(&opts.density, "density", 0, "population density (people/km²)")
	f.Float64Var(&opts.risk, "risk", -1, "environmental risk 0-100")
	f.StringVar(&opts.climate, "climate", "", "temperate, tropical, arid or continental")
	f.StringVar(&opts.terrain, "terrain", "", "flat, hilly, coastal or mountainous")
	f.StringVar(&opts.png, "png", "", "write a preview PNG to this path")
	f.IntVar(&opts.px, "px", 16, "preview pixels per cell")
	f.StringVar(&opts.project, "project", "", "write the project document to this path")
	return cmd
}

func inspectCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [project.json]",
		Short: "Summarize a saved project document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runInspect(cmd.OutOrStdout(), cfg, args[0])
		},
	}
}

func adviseCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "advise",
		Short: "Print road network suggestions for the configured city",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runAdvise(cmd, cfg)
		},
	}
}
