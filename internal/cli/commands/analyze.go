package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/cli/ui"
	"github.com/splax/manifestor/internal/service/generate"
)

// sourceFlags selects where a repository is read from.
type sourceFlags struct {
	source string
	dir    string
	clone  bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.source, "source", "s", "", "repository as owner/repo[@branch] or an https clone URL")
	cmd.Flags().StringVarP(&f.dir, "dir", "d", "", "local repository directory")
	cmd.Flags().BoolVar(&f.clone, "clone", false, "fetch with a shallow git clone instead of the GitHub API")
	cmd.MarkFlagsMutuallyExclusive("source", "dir")
	cmd.MarkFlagsOneRequired("source", "dir")
}

func (f *sourceFlags) request() generate.Request {
	return generate.Request{Source: strings.TrimSpace(f.source), Dir: strings.TrimSpace(f.dir)}
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		src    sourceFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect the language, framework and runtime of a repository",
		Example: `  $ manifestor analyze --source acme/shop
  $ manifestor analyze --dir . --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := a.build(cmd.Context(), wiring{Clone: src.clone})
			if err != nil {
				return err
			}
			defer built.Close()

			analysis, err := built.svc.Analyze(cmd.Context(), src.request())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, analysis)
			}
			printAnalysis(out, analysis)
			return nil
		},
	}
	src.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full analysis as JSON")
	return cmd
}

func printAnalysis(w io.Writer, analysis generate.Analysis) {
	c := analysis.Classification
	ui.Bold(w, "%s", analysis.Source)
	ui.Detail(w, "language", c.Language)
	if c.Framework != "" {
		ui.Detail(w, "framework", c.Framework)
	}
	if c.BuildTool != "" {
		ui.Detail(w, "build tool", c.BuildTool)
	}
	if c.RuntimeVersion != "" {
		ui.Detail(w, "runtime", c.RuntimeVersion)
	}
	ui.Detail(w, "port", c.Port)
	if c.BuildCommand != "" {
		ui.Detail(w, "build", c.BuildCommand)
	}
	if c.StartCommand != "" {
		ui.Detail(w, "start", c.StartCommand)
	}
	if c.StartScript != "" {
		ui.Detail(w, "start script", c.StartScript)
	}
	if analysis.Revision != "" {
		ui.Detail(w, "revision", analysis.Revision)
	}
	ui.Warnings(w, analysis.Report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
