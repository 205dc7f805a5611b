package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/config"
	"github.com/standardbeagle/autousing/internal/logging"
	"github.com/standardbeagle/autousing/internal/version"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "autousing:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "autousing",
		Usage:                  "Type and extension method completion for C# projects",
		Version:                version.Version,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Directory searched for " + config.FileName,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides config",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Write logs to this file instead of stderr",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)",
			},
			&cli.BoolFlag{
				Name:  "no-watch",
				Usage: "Do not rebuild when referenced files change",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Never index references matching glob patterns (e.g. --exclude '**/*.Design.dll')",
			},
			&cli.StringSliceFlag{
				Name:  "framework-dir",
				Usage: "Directory holding framework reference assemblies",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "serve",
				Usage:     "Answer line protocol requests on stdin/stdout (default)",
				ArgsUsage: "[project.csproj...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "unknown-command",
						Usage: "Handling of unrecognised commands: error or ignore",
					},
				},
				Action: serveCommand,
			},
			{
				Name:      "mcp",
				Usage:     "Start MCP (Model Context Protocol) server with stdio transport",
				ArgsUsage: "[project.csproj...]",
				Action:    mcpCommand,
			},
			{
				Name:    "complete",
				Aliases: []string{"c"},
				Usage:   "Index a project once and print completions",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "project",
						Aliases:  []string{"p"},
						Usage:    "Project file to index",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "prefix",
						Usage: "Type name prefix",
					},
					&cli.StringFlag{
						Name:    "extensions",
						Aliases: []string{"e"},
						Usage:   "List extension methods for this receiver type instead of types",
					},
					&cli.StringSliceFlag{
						Name:    "imported",
						Aliases: []string{"i"},
						Usage:   "Namespaces already imported",
					},
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: completeCommand,
			},
		},
		Action: serveCommand,
	}
}

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadWithRoot(c.String("root"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if file := c.String("log-file"); file != "" {
		cfg.Log.File = file
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if c.Bool("no-watch") {
		cfg.Watch.Enabled = false
	}
	if excludes := c.StringSlice("exclude"); len(excludes) > 0 {
		cfg.Index.Exclude = config.DeduplicatePatterns(append(cfg.Index.Exclude, excludes...))
	}
	if dirs := c.StringSlice("framework-dir"); len(dirs) > 0 {
		cfg.Index.FrameworkDirs = append(cfg.Index.FrameworkDirs, dirs...)
	}
	if policy := c.String("unknown-command"); policy != "" {
		cfg.Protocol.UnknownCommand = policy
	}

	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and builds the logger. The returned cleanup
// flushes the logger.
func setup(c *cli.Context) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Debug("configuration loaded",
		zap.Bool("watch", cfg.Watch.Enabled),
		zap.Int("max_parallel_loads", cfg.Index.MaxParallelLoads),
		zap.Strings("framework_dirs", cfg.Index.FrameworkDirs),
		zap.String("unknown_command", cfg.Protocol.UnknownCommand))
	return cfg, logger, cleanup, nil
}
