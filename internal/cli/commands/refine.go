package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/cli/ui"
	"github.com/splax/manifestor/internal/refine"
)

func newRefineCmd(a *app) *cobra.Command {
	var (
		edits    []string
		editFile string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "refine <artifact-dir>",
		Short: "Apply structured edits to generated artifacts",
		Long: `Refine loads the generation stored in <artifact-dir>/.manifestor.json,
applies the edits in order and rewrites the artifacts. Each edit is
validated on its own; the first rejected edit stops the run and the edits
before it are kept.

Edits use the form target=op:value, where op is one of set, increment,
append or remove. An edit file holds a YAML or JSON list of
{target, operation, value} objects.`,
		Example: `  $ manifestor refine output/shop --edit deployment.replicas=set:5
  $ manifestor refine output/shop --edit deployment.env=append:LOG_LEVEL=debug --edit ingress.host=shop.example.com
  $ manifestor refine output/shop --file edits.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := collectEdits(edits, editFile)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				return errors.New("no edits supplied; use --edit or --file")
			}

			dir := filepath.Clean(args[0])
			ctx := cmd.Context()
			built, err := a.build(ctx, wiring{OutputDir: filepath.Dir(dir)})
			if err != nil {
				return err
			}
			defer built.Close()

			id, err := built.svc.Restore(ctx, filepath.Base(dir))
			if err != nil {
				return err
			}
			result, refineErr := built.svc.Refine(ctx, id, ops)
			var verr *refine.ValidationError
			if refineErr != nil && !errors.As(refineErr, &verr) {
				return refineErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, result); err != nil {
					return err
				}
			} else {
				accepted := len(ops)
				if verr != nil {
					accepted = verr.Index
				}
				ui.Success(out, "applied %d of %d edits, revision %d", accepted, len(ops), result.Revision)
				ui.Warnings(out, result.Report)
			}
			if verr != nil {
				return fmt.Errorf("edit %d (%s) rejected: %s", verr.Index+1, verr.Path, verr.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&edits, "edit", "e", nil, "edit as target=op:value (repeatable)")
	cmd.Flags().StringVarP(&editFile, "file", "f", "", "YAML or JSON edit file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the refined generation as JSON")
	return cmd
}

func collectEdits(inline []string, file string) ([]refine.EditOperation, error) {
	var ops []refine.EditOperation
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read edit file: %w", err)
		}
		fromFile, err := refine.ParseEdits(data)
		if err != nil {
			return nil, err
		}
		ops = append(ops, fromFile...)
	}
	for _, raw := range inline {
		op, err := refine.ParseEdit(raw)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
