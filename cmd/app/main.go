package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/zettel/internal"
	pkgconfig "github.com/starford/zettel/pkg/config"
)

var version = "dev"

func options(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	found, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if !found && cmd.IsSet("config") {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}
	if v := cmd.String("vault"); v != "" {
		cfg.Vault.Path = v
	}

	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.ServeMCP(ctx, opts...); err != nil {
		return fmt.Errorf("mcp server error: %w", err)
	}
	return nil
}

func rebuild(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	report, err := internal.Rebuild(ctx, opts...)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	return printJSON(report)
}

func check(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	drift, fixed, err := internal.Check(ctx, cmd.Bool("fix"), opts...)
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if fixed != nil {
		return printJSON(map[string]any{"drift": drift, "reconciled": fixed})
	}
	if err := printJSON(drift); err != nil {
		return err
	}
	if !drift.Clean() {
		return cli.Exit("", 2)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:    "zettel",
		Usage:   "Zettelkasten note store with Markdown files as source of truth and a SQLite link index",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "vault",
				Usage:   "Override the note directory",
				Sources: cli.EnvVars("ZETTEL_VAULT"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the REST API and the event stream",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild the index from the note files",
				Action: rebuild,
			},
			{
				Name:  "check",
				Usage: "Report drift between the note files and the index; exits 2 when drift is found",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "fix",
						Usage: "Reconcile the drift",
					},
				},
				Action: check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
