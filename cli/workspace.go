package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grafana/amgctl/api/azure"
	"github.com/grafana/amgctl/flags"
	"github.com/grafana/amgctl/output"
)

func newWorkspaceCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Look up Azure Managed Grafana workspaces",
	}
	cmd.AddCommand(newWorkspaceListCommand(e), newWorkspaceShowCommand(e))
	return cmd
}

func newWorkspaceListCommand(e *env) *cobra.Command {
	var resourceGroup string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the workspaces of a resource group or subscription",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := e.resolver(resourceGroup)
			if err != nil {
				return err
			}
			workspaces, err := r.List(cmd.Context())
			if err != nil {
				return err
			}
			return e.printWorkspaces(workspaces)
		},
	}
	cmd.Flags().StringVarP(&resourceGroup, "resource-group", "g", "", "resource group to list (default: whole subscription)")
	return cmd
}

func newWorkspaceShowCommand(e *env) *cobra.Command {
	var w flags.Workspace
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a workspace and its Grafana endpoint",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := w.Validate("workspace"); err != nil {
				return err
			}
			if azure.IsURL(w.Workspace) {
				return flags.Usage("--workspace must be a workspace name")
			}
			r, err := e.resolver(w.ResourceGroup)
			if err != nil {
				return err
			}
			ws, err := r.Workspace(cmd.Context(), w.Workspace)
			if err != nil {
				return fmt.Errorf("workspace %q: %w", w.Workspace, err)
			}
			return e.printWorkspaces([]azure.Workspace{ws})
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&w.Workspace, "workspace", "w", "", "workspace name")
	fs.StringVarP(&w.ResourceGroup, "resource-group", "g", "", "resource group of the workspace")
	return cmd
}

func (e *env) printWorkspaces(workspaces []azure.Workspace) error {
	switch output.Format(e.global.Output) {
	case output.FormatJSON:
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(workspaces)
	case output.FormatYAML:
		enc := yaml.NewEncoder(e.out)
		enc.SetIndent(2)
		if err := enc.Encode(workspaces); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRESOURCE GROUP\tLOCATION\tSKU\tENDPOINT")
	for _, w := range workspaces {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.Name, w.ResourceGroup, w.Location, w.SKU, w.Endpoint)
	}
	return tw.Flush()
}
