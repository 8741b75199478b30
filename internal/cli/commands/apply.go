package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/cli/ui"
	"github.com/splax/manifestor/internal/kube"
	"github.com/splax/manifestor/internal/manifest"
	"github.com/splax/manifestor/internal/sink"
)

func newApplyCmd(a *app) *cobra.Command {
	var (
		kubeconfig string
		wait       bool
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "apply <artifact-dir>",
		Short: "Create or update the generated manifests in a cluster",
		Long: `Apply reads the k8s-*.yaml files in <artifact-dir>, checks that they still
agree with each other and creates or updates them in the cluster. An HPA or
Ingress that was removed from the artifacts is deleted when manifestor
created it.`,
		Example: `  $ manifestor apply output/shop --wait
  $ manifestor apply output/shop --kubeconfig ~/.kube/staging --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			set, err := loadSet(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if dryRun {
				for _, doc := range set.Documents() {
					ui.Info(out, "would apply %s %s", doc.Name, set.AppName())
				}
				return nil
			}

			cfg := a.cfg.Kubernetes
			if kubeconfig != "" {
				cfg.Kubeconfig = kubeconfig
			}
			applier, err := kube.New(cfg, a.logger)
			if err != nil {
				return err
			}
			outcomes, err := applier.Apply(ctx, set)
			for _, o := range outcomes {
				ui.Success(out, "%s/%s %s", strings.ToLower(o.Kind), o.Name, o.Action)
			}
			if err != nil {
				return err
			}
			if !wait {
				return nil
			}
			ui.Info(out, "waiting for deployment %s", set.AppName())
			if err := applier.WaitReady(ctx, set.Deployment.Namespace, set.AppName()); err != nil {
				return err
			}
			ui.Success(out, "deployment %s is available", set.AppName())
			return nil
		},
	}
	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "kubeconfig path (defaults to KUBECONFIG, then in-cluster)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the deployment is available")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and list the documents without contacting the cluster")
	return cmd
}

// loadSet reads the manifest documents written to dir.
func loadSet(ctx context.Context, dir string) (manifest.Set, error) {
	dir = filepath.Clean(dir)
	store, err := sink.NewDir(filepath.Dir(dir))
	if err != nil {
		return manifest.Set{}, err
	}
	prefix := filepath.Base(dir)
	names, err := store.List(ctx, prefix)
	if err != nil {
		return manifest.Set{}, err
	}
	files := make(map[string]string)
	for _, name := range names {
		if !strings.HasPrefix(name, "k8s-") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		data, err := store.Get(ctx, prefix, name)
		if err != nil {
			return manifest.Set{}, err
		}
		files[name] = string(data)
	}
	if len(files) == 0 {
		return manifest.Set{}, fmt.Errorf("no manifests found in %s", dir)
	}
	return manifest.Parse(files)
}
