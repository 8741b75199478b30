package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splax/manifestor/internal/cli/ui"
	"github.com/splax/manifestor/internal/service/generate"
	"github.com/splax/manifestor/pkg/api/client"
)

func newRemoteCmd(a *app) *cobra.Command {
	var server, token string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Work with generations stored on a manifestor server",
		Long: `Remote talks to a running "manifestor serve" instead of generating locally.
The server address and bearer token default to MANIFESTOR_SERVER_URL and
MANIFESTOR_TOKEN.`,
		Example: `  $ manifestor remote generate --source acme/shop --replicas 2
  $ manifestor remote edit 5d0c7e2a-... --edit deployment.replicas=increment:1
  $ manifestor remote revisions 5d0c7e2a-...`,
	}
	cmd.PersistentFlags().StringVar(&server, "server", "", "API base URL")
	cmd.PersistentFlags().StringVar(&token, "token", "", "bearer token")

	connect := func() (*client.Client, error) {
		url := a.cfg.Remote.URL
		if server != "" {
			url = server
		}
		tok := a.cfg.Remote.Token
		if token != "" {
			tok = token
		}
		return client.New(url, client.WithToken(tok))
	}

	cmd.AddCommand(
		newRemoteGenerateCmd(a, connect),
		newRemoteGetCmd(connect),
		newRemoteRevisionsCmd(connect),
		newRemoteEditCmd(connect),
	)
	return cmd
}

func newRemoteGenerateCmd(a *app, connect func() (*client.Client, error)) *cobra.Command {
	var (
		src    string
		params paramFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate artifacts on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			req := generate.Request{Source: strings.TrimSpace(src)}
			params.apply(cmd, &req, a.cfg.Generator.Replicas)
			result, err := c.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, result)
			}
			printRemote(cmd, result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&src, "source", "s", "", "repository as owner/repo[@branch] or an https clone URL")
	_ = cmd.MarkFlagRequired("source")
	params.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the generation as JSON")
	return cmd
}

func newRemoteGetCmd(connect func() (*client.Client, error)) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "get <generation-id>",
		Short: "Show a generation, or print one of its files with --file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			result, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if file == "" {
				printRemote(cmd, result)
				return nil
			}
			text, ok := result.Files[file]
			if !ok {
				return fmt.Errorf("generation has no file %q", file)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "artifact filename, e.g. Dockerfile or k8s-deployment.yaml")
	return cmd
}

func newRemoteRevisionsCmd(connect func() (*client.Client, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "revisions <generation-id>",
		Short: "List the edit history of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			revs, err := c.Revisions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rev := range revs {
				ui.Bold(out, "revision %d  %s", rev.Number, rev.CreatedAt.Format("2006-01-02 15:04:05"))
				for _, e := range rev.Edits {
					fmt.Fprintf(out, "  %s\n", e)
				}
			}
			return nil
		},
	}
}

func newRemoteEditCmd(connect func() (*client.Client, error)) *cobra.Command {
	var (
		edits    []string
		editFile string
	)
	cmd := &cobra.Command{
		Use:   "edit <generation-id>",
		Short: "Apply structured edits to a stored generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := collectEdits(edits, editFile)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				return errors.New("no edits supplied; use --edit or --file")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			result, err := c.Refine(cmd.Context(), args[0], ops)
			var rejected *client.RejectedEdit
			if err != nil && !errors.As(err, &rejected) {
				return err
			}
			accepted := len(ops)
			if rejected != nil {
				accepted = rejected.Index
			}
			ui.Success(cmd.OutOrStdout(), "applied %d of %d edits, revision %d", accepted, len(ops), result.Revision)
			if rejected != nil {
				return fmt.Errorf("edit %d (%s) rejected: %s", rejected.Index+1, rejected.Path, rejected.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&edits, "edit", "e", nil, "edit as target=op:value (repeatable)")
	cmd.Flags().StringVarP(&editFile, "file", "f", "", "YAML or JSON edit file")
	return cmd
}

func printRemote(cmd *cobra.Command, result generate.Result) {
	out := cmd.OutOrStdout()
	c := result.Classification
	label := string(c.Language)
	if c.Framework != "" {
		label += "/" + string(c.Framework)
	}
	ui.Success(out, "%s (%s) revision %d", result.Params.AppName, label, result.Revision)
	ui.Detail(out, "generation", result.ID)
	ui.Detail(out, "source", result.Source)
	ui.Files(out, result.ID, result.Files)
	ui.Warnings(out, result.Report)
}
