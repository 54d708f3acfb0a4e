// Package cli wires the amgctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/spf13/cobra"

	"github.com/grafana/amgctl/api/azure"
	"github.com/grafana/amgctl/flags"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
)

// Exit codes returned by Execute.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// env is the state shared by the commands of one invocation.
type env struct {
	global flags.Global
	log    *logger.LeveledLogger
	out    io.Writer
	errOut io.Writer
	now    func() time.Time

	newCredential       func() (azcore.TokenCredential, error)
	newWorkspacesClient func(subscriptionID string, cred azcore.TokenCredential) (azure.WorkspacesClient, error)
	newRoleAssigner     func(subscriptionID string, cred azcore.TokenCredential, log *logger.LeveledLogger) (roleAssigner, error)

	cred      azcore.TokenCredential
	resolvers map[string]*azure.Resolver
}

type roleAssigner interface {
	Assign(ctx context.Context, scope, principalID, roleName string) error
}

func newEnv(out, errOut io.Writer) *env {
	return &env{
		out:           out,
		errOut:        errOut,
		now:           time.Now,
		log:           logger.NewLeveledLogger(false),
		newCredential: azure.NewCredential,
		newWorkspacesClient: func(subscriptionID string, cred azcore.TokenCredential) (azure.WorkspacesClient, error) {
			return azure.NewWorkspacesClient(subscriptionID, cred)
		},
		newRoleAssigner: func(subscriptionID string, cred azcore.TokenCredential, log *logger.LeveledLogger) (roleAssigner, error) {
			return azure.NewRoleAssignerForSubscription(subscriptionID, cred, log)
		},
		resolvers: map[string]*azure.Resolver{},
	}
}

// NewRootCommand returns the amgctl command tree writing to out and errOut.
func NewRootCommand(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(newEnv(out, errOut))
}

func newRootCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amgctl",
		Short: "Back up, restore, migrate and sync Azure Managed Grafana workspaces",
		Long: `amgctl copies Grafana objects between Azure Managed Grafana workspaces.

Workspaces are given either as a Grafana URL or as a workspace name, which
is resolved through Azure Resource Manager. Names and Azure AD tokens use
the default Azure credential chain. URLs may use a Grafana API token instead
(--token or GRAFANA_TOKEN).

Every flag can also be set through an AMG_* environment variable or an
amgctl.yaml config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
	}
	cmd.SetOut(e.out)
	cmd.SetErr(e.errOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return flags.Usage("%v", err)
	})
	flags.BindGlobal(cmd.PersistentFlags(), &e.global)

	cmd.AddCommand(
		newBackupCommand(e),
		newRestoreCommand(e),
		newMigrateCommand(e),
		newDashboardCommand(e),
		newWorkspaceCommand(e),
		newRoleAssignmentCommand(e),
	)
	return cmd
}

func (e *env) setup(cmd *cobra.Command) error {
	configFile := e.global.Config
	if configFile == "" {
		configFile = os.Getenv(flags.EnvPrefix + "_CONFIG")
	}
	v, err := flags.NewViper(configFile)
	if err != nil {
		return err
	}
	if err := flags.Apply(cmd.Flags(), v); err != nil {
		return err
	}
	if err := e.global.Validate(); err != nil {
		return err
	}

	e.log = logger.NewLeveledLogger(e.global.Verbose)
	// Structured summaries own stdout.
	if output.Format(e.global.Output) == output.FormatText {
		e.log.SetOutput(e.out)
	} else {
		e.log.SetOutput(e.errOut)
	}
	if e.global.LogFormat == "json" {
		e.log.SetJSON()
	}
	if used := v.ConfigFileUsed(); used != "" {
		e.log.Verbose().Log("Using config file %s", used)
	}
	return nil
}

// noArgs rejects positional arguments as a usage error.
func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return flags.Usage("unexpected arguments %q", args)
	}
	return nil
}

// Execute runs amgctl with args and returns the process exit code.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	return execute(ctx, newEnv(out, errOut), args)
}

func execute(ctx context.Context, e *env, args []string) int {
	cmd := newRootCommand(e)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(e.errOut, "Error: %s\n", err)
	if errors.Is(err, flags.ErrArgumentUsage) {
		fmt.Fprintf(e.errOut, "Run '%s --help' for usage.\n", cmd.CommandPath())
		return ExitUsage
	}
	return ExitError
}

// report prints the summary in the selected format and turns failed items
// into an error.
func (e *env) report(summary *output.Summary) error {
	o, err := output.New(output.Format(e.global.Output), e.log, e.out)
	if err != nil {
		return err
	}
	if err := o.Output(summary); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if summary.Failed() {
		return fmt.Errorf("%s finished with failures", summary.Operation)
	}
	return nil
}
