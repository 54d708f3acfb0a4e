package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grafana/amgctl/backup"
	"github.com/grafana/amgctl/flags"
	"github.com/grafana/amgctl/inventory"
	"github.com/grafana/amgctl/output"
	"github.com/grafana/amgctl/reconcile"
)

// MigrateComponents are copied by migrate when no component is named.
var MigrateComponents = []output.Kind{
	output.KindDatasource,
	output.KindFolder,
	output.KindLibraryPanel,
	output.KindDashboard,
}

// SyncComponents are copied by dashboard sync when no component is named.
var SyncComponents = []output.Kind{
	output.KindLibraryPanel,
	output.KindDashboard,
}

// transferOptions are shared by migrate and dashboard sync.
type transferOptions struct {
	operation  string
	defaults   []output.Kind
	Source     flags.Workspace
	Dest       flags.Workspace
	Components []string
	Overwrite  bool
	DryRun     bool
	Filters    flags.Filters

	kinds []output.Kind
}

func (o *transferOptions) Validate() error {
	if err := o.Source.Validate("source"); err != nil {
		return err
	}
	if err := o.Dest.Validate("destination"); err != nil {
		return err
	}
	if o.Source.Workspace == o.Dest.Workspace && o.Source.ResourceGroup == o.Dest.ResourceGroup {
		return flags.Invalid("--source and --destination are the same workspace")
	}
	kinds, err := backup.ParseComponents(o.Components, o.defaults)
	if err != nil {
		return flags.Usage("%v", err)
	}
	o.kinds = kinds
	return nil
}

func (o *transferOptions) bind(cmd *cobra.Command, overwrite bool) {
	fs := cmd.Flags()
	o.Source.Bind(fs, "source", "source workspace name or Grafana URL")
	o.Dest.Bind(fs, "destination", "destination workspace name or Grafana URL")
	fs.StringSliceVar(&o.Components, "components", nil, fmt.Sprintf("components to copy (default %s)", kindNames(o.defaults)))
	fs.BoolVar(&o.Overwrite, "overwrite", overwrite, "overwrite objects that already exist in the destination")
	fs.BoolVar(&o.DryRun, "dry-run", false, "report what would change without changing anything")
	o.Filters.Bind(fs)
}

func kindNames(kinds []output.Kind) string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	return strings.Join(names, ",")
}

func newMigrateCommand(e *env) *cobra.Command {
	o := &transferOptions{operation: "migrate", defaults: MigrateComponents}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy data sources, folders, library panels and dashboards between workspaces",
		Long: `Copy the objects of the source workspace into the destination workspace.
Data source references in dashboards and library panels are remapped to the
destination data source with the same name and type. Existing objects are
skipped unless --overwrite is given.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return e.transfer(cmd.Context(), o)
		},
	}
	o.bind(cmd, false)
	return cmd
}

func newDashboardCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Manage dashboards across workspaces",
	}
	cmd.AddCommand(newSyncCommand(e))
	return cmd
}

func newSyncCommand(e *env) *cobra.Command {
	o := &transferOptions{operation: "sync", defaults: SyncComponents}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync dashboards and library panels from one workspace to another",
		Long: `Sync dashboards and library panels from the source workspace to the
destination workspace, overwriting what exists unless --overwrite=false.
Missing folders are created on the destination.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return e.transfer(cmd.Context(), o)
		},
	}
	o.bind(cmd, true)
	return cmd
}

// transfer collects the source and reconciles it into the destination.
func (e *env) transfer(ctx context.Context, o *transferOptions) error {
	src, err := e.connect(ctx, o.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dst, err := e.connect(ctx, o.Dest)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	// Data sources are always read from the source for the uid mapping.
	collect := append([]output.Kind{output.KindDatasource}, o.kinds...)
	now := e.now()
	e.log.WithField("workspace", src.Name).Log("Reading %s", src.Endpoint)
	set, err := inventory.New(src.Client, e.log.WithField("workspace", src.Name)).Collect(ctx, inventory.Options{
		Kinds:      collect,
		Folders:    o.Filters.Folders(),
		Dashboards: o.Filters.Dashboards(),
		Now:        now,
	})
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	log := e.log.WithField("workspace", dst.Name)
	log.Log("Writing to %s", dst.Endpoint)
	summary, err := reconcile.New(dst.Client, log, reconcile.Options{
		Operation:  o.operation,
		Overwrite:  o.Overwrite,
		DryRun:     o.DryRun,
		Kinds:      o.kinds,
		Folders:    o.Filters.Folders(),
		Dashboards: o.Filters.Dashboards(),
		Now:        now,
	}).Run(ctx, set)
	if err != nil {
		return err
	}
	return e.report(summary)
}
