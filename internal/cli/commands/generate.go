package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/cli/ui"
	"github.com/splax/manifestor/internal/docker"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/internal/source"
	"github.com/splax/manifestor/internal/workspace"
)

// paramFlags are the deployment parameters a user may override.
type paramFlags struct {
	name          string
	namespace     string
	replicas      int32
	domain        string
	image         string
	healthPath    string
	resourceScale float64
	autoscale     bool
}

func (f *paramFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "application name (defaults to the repository name)")
	cmd.Flags().StringVarP(&f.namespace, "namespace", "n", "", "target namespace (defaults to MANIFESTOR_NAMESPACE)")
	cmd.Flags().Int32VarP(&f.replicas, "replicas", "r", 0, "deployment replicas (defaults to MANIFESTOR_REPLICAS)")
	cmd.Flags().StringVar(&f.domain, "domain", "", "public host; adds an Ingress with TLS")
	cmd.Flags().StringVar(&f.image, "image", "", "container image (defaults to <name>:latest)")
	cmd.Flags().StringVar(&f.healthPath, "health-path", "", "HTTP path used by probes and HEALTHCHECK")
	cmd.Flags().Float64Var(&f.resourceScale, "resource-scale", 0, "multiplier applied to default requests and limits")
	cmd.Flags().BoolVar(&f.autoscale, "autoscale", false, "add a HorizontalPodAutoscaler (default true when replicas > 1)")
}

func (f *paramFlags) apply(cmd *cobra.Command, req *generate.Request, defaultReplicas int) {
	p := &req.Params
	p.AppName = strings.TrimSpace(f.name)
	p.Namespace = strings.TrimSpace(f.namespace)
	p.Replicas = f.replicas
	p.Domain = strings.TrimSpace(f.domain)
	p.Image = strings.TrimSpace(f.image)
	p.HealthCheckPath = strings.TrimSpace(f.healthPath)
	p.ResourceScale = f.resourceScale

	replicas := f.replicas
	if replicas == 0 {
		replicas = int32(defaultReplicas)
	}
	if cmd.Flags().Changed("autoscale") {
		p.Autoscale = f.autoscale
	} else {
		p.Autoscale = replicas > 1
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		src         sourceFlags
		params      paramFlags
		outDir      string
		verifyBuild bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a Dockerfile and Kubernetes manifests for a repository",
		Long: `Generate analyzes a repository and writes its artifacts to <out>/<name>/.
A .manifestor.json state file is written alongside so the output can be
refined later with "manifestor refine".`,
		Example: `  $ manifestor generate --source acme/shop --replicas 3 --domain shop.example.com
  $ manifestor generate --dir ./api --out build/deploy --verify-build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			built, err := a.build(ctx, wiring{Clone: src.clone, OutputDir: outDir})
			if err != nil {
				return err
			}
			defer built.Close()

			req := src.request()
			params.apply(cmd, &req, a.cfg.Generator.Replicas)
			result, err := built.svc.Generate(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				printGeneration(out, result, outDirOr(outDir, a.cfg.Generator.OutputDir))
			}

			if !verifyBuild {
				return nil
			}
			return a.verify(ctx, cmd.ErrOrStderr(), src, result)
		},
	}
	src.register(cmd)
	params.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (defaults to MANIFESTOR_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&verifyBuild, "verify-build", false, "build the generated Dockerfile with the local Docker daemon")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the generation as JSON")
	return cmd
}

func outDirOr(dir, fallback string) string {
	if dir != "" {
		return dir
	}
	return fallback
}

func printGeneration(w io.Writer, result generate.Result, outDir string) {
	c := result.Classification
	label := string(c.Language)
	if c.Framework != "" {
		label += "/" + string(c.Framework)
	}
	ui.Success(w, "generated %s (%s) revision %d", result.Params.AppName, label, result.Revision)
	ui.Detail(w, "generation", result.ID)
	ui.Files(w, filepath.Join(outDir, result.Params.AppName), result.Files)
	ui.Warnings(w, result.Report)
}

// verify builds the generated Dockerfile against the repository sources.
// Remote sources are cloned into a scratch workspace first.
func (a *app) verify(ctx context.Context, w io.Writer, src sourceFlags, result generate.Result) error {
	dir := strings.TrimSpace(src.dir)
	if dir == "" {
		ref, err := source.ParseRef(src.source)
		if err != nil {
			return err
		}
		ws, err := workspace.New(a.cfg.Generator.Workdir)
		if err != nil {
			return err
		}
		checkout, _, release, err := source.NewClone(ws, a.cfg.GitHub.Token, a.logger).Checkout(ctx, ref)
		if err != nil {
			return fmt.Errorf("checkout for build verification: %w", err)
		}
		defer func() {
			if err := release(); err != nil {
				a.logger.Warn("workspace cleanup failed", "dir", checkout, "error", err)
			}
		}()
		dir = checkout
	}

	client, err := docker.New(a.cfg.Docker.Host)
	if err != nil {
		return err
	}
	defer client.Close()
	if err := client.Ping(ctx); err != nil {
		return err
	}

	if timeout := a.cfg.Docker.BuildTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	tag := verifyTag(result)
	ui.Info(w, "building %s", tag)
	build, err := client.VerifyBuild(ctx, dir, result.Artifacts.Dockerfile.Text, tag, false, func(line string) {
		fmt.Fprint(w, line)
		if !strings.HasSuffix(line, "\n") {
			fmt.Fprintln(w)
		}
	})
	if err != nil {
		if errors.Is(err, docker.ErrBuildFailed) {
			ui.Error(w, "dockerfile did not build")
		}
		return err
	}
	ui.Success(w, "dockerfile built in %s", build.Duration.Round(100*time.Millisecond))
	return nil
}

func verifyTag(result generate.Result) string {
	id := result.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("manifestor-verify/%s:%s", result.Params.AppName, id)
}
