package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grafana/amgctl/api/azure"
	"github.com/grafana/amgctl/flags"
)

type roleAssignmentOptions struct {
	Workspace  flags.Workspace
	AssigneeID string
	Role       string
}

func (o *roleAssignmentOptions) Validate() error {
	if err := o.Workspace.Validate("workspace"); err != nil {
		return err
	}
	if azure.IsURL(o.Workspace.Workspace) {
		return flags.Usage("--workspace must be a workspace name")
	}
	if o.AssigneeID == "" {
		return flags.Usage("--assignee-object-id is required")
	}
	if _, err := uuid.Parse(o.AssigneeID); err != nil {
		return flags.Invalid("--assignee-object-id %q is not an object id: %v", o.AssigneeID, err)
	}
	if o.Role == "" {
		return flags.Usage("--role is required")
	}
	return nil
}

func newRoleAssignmentCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role-assignment",
		Short: "Manage Azure role assignments on a workspace",
	}
	cmd.AddCommand(newRoleAssignmentCreateCommand(e))
	return cmd
}

func newRoleAssignmentCreateCommand(e *env) *cobra.Command {
	o := &roleAssignmentOptions{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Grant a Grafana role on a workspace to a user, group or service principal",
		Long: `Grant a role on a workspace. A principal created moments ago may not have
replicated yet; the assignment is retried for up to three minutes while
Azure reports it as not found.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := e.resolver(o.Workspace.ResourceGroup)
			if err != nil {
				return err
			}
			ws, err := r.Workspace(ctx, o.Workspace.Workspace)
			if err != nil {
				return fmt.Errorf("workspace %q: %w", o.Workspace.Workspace, err)
			}
			sub, err := e.subscription()
			if err != nil {
				return err
			}
			cred, err := e.credential()
			if err != nil {
				return err
			}
			assigner, err := e.newRoleAssigner(sub, cred, e.log.WithField("workspace", ws.Name))
			if err != nil {
				return err
			}
			return assigner.Assign(ctx, ws.ID, o.AssigneeID, o.Role)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&o.Workspace.Workspace, "workspace", "w", "", "workspace name")
	fs.StringVarP(&o.Workspace.ResourceGroup, "resource-group", "g", "", "resource group of the workspace")
	fs.StringVar(&o.AssigneeID, "assignee-object-id", "", "object id of the user, group or service principal")
	fs.StringVar(&o.Role, "role", azure.DefaultRole, "role to grant, e.g. \"Grafana Admin\", \"Grafana Editor\" or \"Grafana Viewer\"")
	return cmd
}
