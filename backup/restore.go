package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/archive"
	"github.com/grafana/amgctl/inventory"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
	"github.com/grafana/amgctl/reconcile"
)

type RestoreOptions struct {
	ArchivePath string
	Kinds       []output.Kind
	Overwrite   bool
	DryRun      bool
	Folders     inventory.Filter
	Dashboards  inventory.Filter
	// KeepFiles leaves the extracted archive in place.
	KeepFiles bool
	Now       time.Time
}

// Restore extracts an archive and applies its objects to dest, in the
// order data sources, folders, folder permissions, library panels,
// dashboards, snapshots, annotations. The archived data sources are read
// even when not restored, to remap the references of dashboards and
// library panels.
func Restore(ctx context.Context, dest reconcile.Destination, log *logger.LeveledLogger, opts RestoreOptions) (*output.Summary, error) {
	tmp, err := os.MkdirTemp("", "amgctl-restore-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	if opts.KeepFiles {
		log.Log("Extracting to %s", tmp)
	} else {
		defer os.RemoveAll(tmp)
	}

	if err := archive.Extract(opts.ArchivePath, tmp); err != nil {
		return nil, fmt.Errorf("extract %q: %w", opts.ArchivePath, err)
	}
	set, err := Load(tmp, withDatasources(opts.Kinds), log)
	if err != nil {
		return nil, err
	}

	summary, err := reconcile.New(dest, log, reconcile.Options{
		Operation:  "restore",
		Overwrite:  opts.Overwrite,
		DryRun:     opts.DryRun,
		Kinds:      opts.Kinds,
		Folders:    opts.Folders,
		Dashboards: opts.Dashboards,
		Now:        opts.Now,
	}).Run(ctx, set)
	if summary != nil {
		summary.Archive = opts.ArchivePath
	}
	return summary, err
}

// Load reads the objects of kinds found under root, matching files by
// extension at any depth. Files that cannot be decoded are logged and skipped.
func Load(root string, kinds []output.Kind, log *logger.LeveledLogger) (*inventory.Set, error) {
	set := inventory.NewSet()
	for _, kind := range kinds {
		files, err := archive.Find(root, archive.Extension(string(kind)))
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", kind, err)
		}
		log.Verbose().Log("Found %d %s", len(files), kind)
		for _, file := range files {
			if err := load(set, kind, file); err != nil {
				log.Warn("skipping %s: %v", file, err)
			}
		}
	}
	return set, nil
}

func load(set *inventory.Set, kind output.Kind, file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	switch kind {
	case output.KindDatasource:
		var ds grafana.Object
		if err := json.Unmarshal(b, &ds); err != nil {
			return err
		}
		set.Datasources = append(set.Datasources, ds)
	case output.KindFolder:
		var f grafana.Folder
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		set.Folders = append(set.Folders, f)
	case output.KindFolderPermission:
		var p folderPermissions
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		set.FolderPermissions[p.UID] = p.Items
	case output.KindLibraryPanel:
		var e grafana.Object
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		set.LibraryPanels = append(set.LibraryPanels, e)
	case output.KindDashboard:
		var d grafana.DashboardDefinition
		if err := json.Unmarshal(b, &d); err != nil {
			return err
		}
		set.Dashboards = append(set.Dashboards, d)
	case output.KindSnapshot:
		var s grafana.Object
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		set.Snapshots = append(set.Snapshots, s)
	case output.KindAnnotation:
		var a grafana.Object
		if err := json.Unmarshal(b, &a); err != nil {
			return err
		}
		set.Annotations = append(set.Annotations, a)
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}
	return nil
}
