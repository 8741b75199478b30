// Package commands implements the manifestor command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/pkg/config"
	"github.com/splax/manifestor/pkg/logger"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// app carries state shared by every subcommand.
type app struct {
	cfg      config.Config
	logLevel string
	logger   *slog.Logger
	loadCfg  func() config.Config
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCommand(config.Load).Execute()
}

// NewRootCommand assembles the command tree. load supplies configuration and
// is called once before any subcommand runs.
func NewRootCommand(load func() config.Config) *cobra.Command {
	a := &app{loadCfg: load}
	root := &cobra.Command{
		Use:   "manifestor",
		Short: "Generate Dockerfiles and Kubernetes manifests from a repository",
		Long: `manifestor inspects a repository, classifies its language and framework,
and writes a two-stage Dockerfile plus Deployment, Service, ConfigMap and
optional HPA and Ingress manifests. Generated artifacts can be refined with
structured edits, verified with a Docker build and applied to a cluster.`,
		Example: `  # Generate artifacts for a GitHub repository
  $ manifestor generate --source acme/shop --out output

  # Generate from a local checkout and verify the Dockerfile builds
  $ manifestor generate --dir ./shop --verify-build

  # Scale the generated deployment to five replicas
  $ manifestor refine output/shop --edit deployment.replicas=set:5

  # Serve the HTTP API
  $ manifestor serve`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.init(cmd.ErrOrStderr())
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("manifestor version {{.Version}}\n")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug|info|warn|error); defaults to LOG_LEVEL")

	root.AddCommand(
		newAnalyzeCmd(a),
		newGenerateCmd(a),
		newRefineCmd(a),
		newApplyCmd(a),
		newServeCmd(a),
		newMigrateCmd(a),
		newRemoteCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(stderr io.Writer) {
	if a.loadCfg != nil {
		a.cfg = a.loadCfg()
	}
	level := a.cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	a.logger = logger.NewWithWriter(stderr, "manifestor", logger.ParseLevel(level))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "manifestor version %s\n", Version)
		},
	}
}
