package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/standardbeagle/autousing/internal/project"
	"github.com/standardbeagle/autousing/internal/types"
	"github.com/standardbeagle/autousing/pkg/pathutil"
)

// completeCommand indexes one project without watching and prints the
// matching types, or the extension methods of a receiver
func completeCommand(c *cli.Context) error {
	cfg, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	cfg.Watch.Enabled = false

	opts, err := project.OptionsFromConfig(cfg, logger, nil)
	if err != nil {
		return err
	}
	p, err := project.Open(c.Context, c.String("project"), opts)
	if err != nil {
		return err
	}
	defer p.Dispose()

	for _, f := range p.Info().Failures {
		logger.Warn("reference not indexed",
			zap.String("path", pathutil.ToRelative(f.Path, filepath.Dir(p.Path()))),
			zap.String("code", string(f.Code)))
	}

	imported := types.NewNamespaceSet(c.StringSlice("imported")...)
	out := c.App.Writer

	if receiver := c.String("extensions"); receiver != "" {
		exts := p.Extensions(receiver, imported)
		if c.Bool("json") {
			return writeJSON(out, exts)
		}
		for _, e := range exts {
			fmt.Fprintf(out, "%s.%s\t%s\n", e.ExtendedType, e.Method, strings.Join(e.Namespaces, ", "))
		}
		return nil
	}

	entries := p.Query(c.String("prefix"), imported)
	if c.Bool("json") {
		return writeJSON(out, entries)
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\n", e.Name, strings.Join(e.Namespaces, ", "))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
