package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/grafana/amgctl/backup"
	"github.com/grafana/amgctl/flags"
	"github.com/grafana/amgctl/output"
)

type restoreOptions struct {
	Workspace   flags.Workspace
	ArchiveFile string
	Components  []string
	Overwrite   bool
	DryRun      bool
	Filters     flags.Filters

	kinds []output.Kind
}

func (o *restoreOptions) Validate() error {
	if err := o.Workspace.Validate("workspace"); err != nil {
		return err
	}
	if o.ArchiveFile == "" {
		return flags.Usage("--archive-file is required")
	}
	if _, err := os.Stat(o.ArchiveFile); err != nil {
		return flags.Invalid("archive: %v", err)
	}
	kinds, err := backup.ParseComponents(o.Components, backup.DefaultComponents)
	if err != nil {
		return flags.Usage("%v", err)
	}
	o.kinds = kinds
	return nil
}

func newRestoreCommand(e *env) *cobra.Command {
	o := &restoreOptions{}
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a workspace from a backup archive",
		Long: `Restore the objects of a backup archive into a workspace. Components are
restored in the order data sources, folders, folder permissions, library
panels, dashboards, snapshots, annotations. Data source references are
remapped by name and type using the archived data sources, even when data
sources themselves are not restored. Existing objects are skipped unless
--overwrite is given.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return e.restore(cmd.Context(), o)
		},
	}
	fs := cmd.Flags()
	o.Workspace.Bind(fs, "", "workspace name or Grafana URL to restore into")
	fs.StringVarP(&o.ArchiveFile, "archive-file", "a", "", "backup archive to restore")
	fs.StringSliceVar(&o.Components, "components", nil, "components to restore (default dashboards,folders,snapshots,annotations)")
	fs.BoolVar(&o.Overwrite, "overwrite", false, "overwrite objects that already exist")
	fs.BoolVar(&o.DryRun, "dry-run", false, "report what would change without changing anything")
	o.Filters.Bind(fs)
	return cmd
}

func (e *env) restore(ctx context.Context, o *restoreOptions) error {
	conn, err := e.connect(ctx, o.Workspace)
	if err != nil {
		return err
	}
	log := e.log.WithField("workspace", conn.Name)
	log.Log("Restoring %s into %s", o.ArchiveFile, conn.Endpoint)
	summary, err := backup.Restore(ctx, conn.Client, log, backup.RestoreOptions{
		ArchivePath: o.ArchiveFile,
		Kinds:       o.kinds,
		Overwrite:   o.Overwrite,
		DryRun:      o.DryRun,
		Folders:     o.Filters.Folders(),
		Dashboards:  o.Filters.Dashboards(),
		KeepFiles:   e.global.Debug,
		Now:         e.now(),
	})
	if err != nil {
		return err
	}
	return e.report(summary)
}
