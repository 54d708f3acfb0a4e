package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/grafana/amgctl/backup"
	"github.com/grafana/amgctl/flags"
	"github.com/grafana/amgctl/output"
)

type backupOptions struct {
	Workspace  flags.Workspace
	Directory  string
	Components []string
	Filters    flags.Filters

	kinds []output.Kind
}

func (o *backupOptions) Validate() error {
	if err := o.Workspace.Validate("workspace"); err != nil {
		return err
	}
	if o.Directory == "" {
		return flags.Usage("--directory is required")
	}
	kinds, err := backup.ParseComponents(o.Components, backup.DefaultComponents)
	if err != nil {
		return flags.Usage("%v", err)
	}
	o.kinds = kinds
	return nil
}

func newBackupCommand(e *env) *cobra.Command {
	o := &backupOptions{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up a workspace to a tar.gz archive",
		Long: `Back up the dashboards, folders, snapshots and annotations of a workspace,
or the components named with --components, to
<directory>/<workspace>-<YYYYMMDDHHMM>.tar.gz. Data sources are always
included so that restore can remap dashboard references.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			return e.backup(cmd.Context(), o)
		},
	}
	fs := cmd.Flags()
	o.Workspace.Bind(fs, "", "workspace name or Grafana URL to back up")
	fs.StringVarP(&o.Directory, "directory", "d", ".", "directory to write the archive to")
	fs.StringSliceVar(&o.Components, "components", nil, "components to back up (default dashboards,folders,snapshots,annotations)")
	o.Filters.Bind(fs)
	return cmd
}

func (e *env) backup(ctx context.Context, o *backupOptions) error {
	conn, err := e.connect(ctx, o.Workspace)
	if err != nil {
		return err
	}
	log := e.log.WithField("workspace", conn.Name)
	log.Log("Backing up %s", conn.Endpoint)
	summary, err := backup.Backup(ctx, conn.Client, log, backup.Options{
		Workspace:  conn.Name,
		Directory:  o.Directory,
		Kinds:      o.kinds,
		Folders:    o.Filters.Folders(),
		Dashboards: o.Filters.Dashboards(),
		KeepFiles:  e.global.Debug,
		Now:        e.now(),
	})
	if err != nil {
		return err
	}
	return e.report(summary)
}
