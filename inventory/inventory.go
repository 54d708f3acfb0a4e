// Package inventory enumerates the objects of a Grafana instance.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
)

// Reader is the read side of the Grafana API used for enumeration.
type Reader interface {
	SearchDashboards(ctx context.Context, page int) ([]grafana.ListedDashboard, error)
	GetDashboard(ctx context.Context, uid string) (*grafana.DashboardDefinition, error)
	GetFolders(ctx context.Context, page int) ([]grafana.Folder, error)
	GetFolderPermissions(ctx context.Context, uid string) ([]grafana.Object, error)
	GetDatasources(ctx context.Context) ([]grafana.Object, error)
	GetSnapshots(ctx context.Context) ([]grafana.ListedSnapshot, error)
	GetSnapshot(ctx context.Context, key string) (grafana.Object, error)
	GetAnnotations(ctx context.Context, from, to time.Time) ([]grafana.Object, error)
	GetLibraryElements(ctx context.Context, page int) ([]grafana.Object, error)
}

// static check
var _ Reader = grafana.APIClient{}

// Set holds the objects of one Grafana instance, as enumerated from its API
// or loaded from a backup archive.
type Set struct {
	Datasources       []grafana.Object
	Folders           []grafana.Folder
	FolderPermissions map[string][]grafana.Object
	LibraryPanels     []grafana.Object
	Dashboards        []grafana.DashboardDefinition
	Snapshots         []grafana.Object
	Annotations       []grafana.Object
}

func NewSet() *Set {
	return &Set{FolderPermissions: map[string][]grafana.Object{}}
}

// Options selects what Collect enumerates.
type Options struct {
	Kinds      []output.Kind
	Folders    Filter
	Dashboards Filter
	Now        time.Time
}

func (o Options) has(kind output.Kind) bool {
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type Inventory struct {
	client Reader
	log    *logger.LeveledLogger
}

func New(client Reader, log *logger.LeveledLogger) *Inventory {
	return &Inventory{client: client, log: log}
}

// Collect enumerates the kinds listed in opts. Listing failures abort;
// failures to load a single object are logged and the object is skipped.
func (inv *Inventory) Collect(ctx context.Context, opts Options) (*Set, error) {
	set := NewSet()
	var err error
	if opts.has(output.KindDatasource) {
		if set.Datasources, err = inv.Datasources(ctx); err != nil {
			return nil, fmt.Errorf("datasources: %w", err)
		}
	}
	if opts.has(output.KindFolder) || opts.has(output.KindFolderPermission) {
		if set.Folders, err = inv.Folders(ctx, opts.Folders); err != nil {
			return nil, fmt.Errorf("folders: %w", err)
		}
	}
	if opts.has(output.KindFolderPermission) {
		for _, f := range set.Folders {
			perms, err := inv.client.GetFolderPermissions(ctx, f.UID)
			if err != nil {
				inv.log.Warn("get permissions of folder %q: %v", f.Title, err)
				continue
			}
			set.FolderPermissions[f.UID] = perms
		}
	}
	if opts.has(output.KindLibraryPanel) {
		if set.LibraryPanels, err = inv.LibraryPanels(ctx, opts.Folders); err != nil {
			return nil, fmt.Errorf("library panels: %w", err)
		}
	}
	if opts.has(output.KindDashboard) {
		if set.Dashboards, err = inv.Dashboards(ctx, opts.Folders, opts.Dashboards); err != nil {
			return nil, fmt.Errorf("dashboards: %w", err)
		}
	}
	if opts.has(output.KindSnapshot) {
		if set.Snapshots, err = inv.Snapshots(ctx); err != nil {
			return nil, fmt.Errorf("snapshots: %w", err)
		}
	}
	if opts.has(output.KindAnnotation) {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		if set.Annotations, err = inv.Annotations(ctx, now); err != nil {
			return nil, fmt.Errorf("annotations: %w", err)
		}
	}
	return set, nil
}

// ListDashboards returns every dashboard listed by search.
func (inv *Inventory) ListDashboards(ctx context.Context) ([]grafana.ListedDashboard, error) {
	return Paginate(ctx, inv.client.SearchDashboards)
}

// Dashboards loads every dashboard allowed by the filters. Provisioned
// dashboards are skipped since they cannot be restored through the API.
func (inv *Inventory) Dashboards(ctx context.Context, folders, dashboards Filter) ([]grafana.DashboardDefinition, error) {
	listed, err := inv.ListDashboards(ctx)
	if err != nil {
		return nil, err
	}
	var out []grafana.DashboardDefinition
	for _, d := range listed {
		folderTitle := d.FolderTitle
		if folderTitle == "" {
			folderTitle = grafana.GeneralFolderTitle
		}
		if !folders.Allows(folderTitle) || !dashboards.Allows(d.Title) {
			inv.log.Verbose().Log("Skipping dashboard %q in folder %q", d.Title, folderTitle)
			continue
		}
		def, err := inv.client.GetDashboard(ctx, d.UID)
		if err != nil {
			inv.log.Warn("get dashboard %q: %v", d.UID, err)
			continue
		}
		if def.Meta.Provisioned {
			inv.log.Verbose().Log("Skipping provisioned dashboard %q", d.Title)
			continue
		}
		out = append(out, *def)
	}
	return out, nil
}

func (inv *Inventory) Folders(ctx context.Context, filter Filter) ([]grafana.Folder, error) {
	all, err := Paginate(ctx, inv.client.GetFolders)
	if err != nil {
		return nil, err
	}
	var out []grafana.Folder
	for _, f := range all {
		if !filter.Allows(f.Title) {
			inv.log.Verbose().Log("Skipping folder %q", f.Title)
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (inv *Inventory) Datasources(ctx context.Context) ([]grafana.Object, error) {
	return inv.client.GetDatasources(ctx)
}

// LibraryPanelFolder returns the title of the folder holding a library panel.
func LibraryPanelFolder(e grafana.Object) string {
	if title := e.Map("meta").String("folderName"); title != "" {
		return title
	}
	return grafana.GeneralFolderTitle
}

func (inv *Inventory) LibraryPanels(ctx context.Context, filter Filter) ([]grafana.Object, error) {
	all, err := Paginate(ctx, inv.client.GetLibraryElements)
	if err != nil {
		return nil, err
	}
	var out []grafana.Object
	for _, e := range all {
		if !filter.Allows(LibraryPanelFolder(e)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Snapshots loads every snapshot with its dashboard. The returned objects
// carry key and name so they can be re-posted as is.
func (inv *Inventory) Snapshots(ctx context.Context) ([]grafana.Object, error) {
	listed, err := inv.client.GetSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	var out []grafana.Object
	for _, s := range listed {
		if s.External {
			inv.log.Verbose().Log("Skipping external snapshot %q", s.Name)
			continue
		}
		snap, err := inv.client.GetSnapshot(ctx, s.Key)
		if err != nil {
			inv.log.Warn("get snapshot %q: %v", s.Key, err)
			continue
		}
		out = append(out, grafana.Object{
			"key":       s.Key,
			"name":      s.Name,
			"dashboard": snap["dashboard"],
		})
	}
	return out, nil
}

// Annotations returns the annotations of the last AnnotationWindows windows
// before now, de-duplicated by id.
func (inv *Inventory) Annotations(ctx context.Context, now time.Time) ([]grafana.Object, error) {
	seen := map[int64]bool{}
	var out []grafana.Object
	for _, w := range AnnotationTimeWindows(now) {
		items, err := inv.client.GetAnnotations(ctx, w.From, w.To)
		if err != nil {
			return nil, fmt.Errorf("window %s - %s: %w", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339), err)
		}
		for _, a := range items {
			if id := a.Int("id"); id != 0 {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			out = append(out, a)
		}
	}
	return out, nil
}
