// Package reconcile applies a set of Grafana objects to a destination
// instance, creating what is missing and overwriting what exists when asked.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/inventory"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
	"github.com/grafana/amgctl/remap"
)

// Destination is the Grafana API surface written to by a run.
type Destination interface {
	inventory.Reader

	CreateDashboard(ctx context.Context, req grafana.CreateDashboardRequest) (*grafana.CreateDashboardResponse, error)
	DeleteDashboard(ctx context.Context, uid string) error
	CreateFolder(ctx context.Context, uid, title string) (*grafana.Folder, error)
	UpdateFolder(ctx context.Context, uid, title string, overwrite bool) (*grafana.Folder, error)
	UpdateFolderPermissions(ctx context.Context, uid string, items []grafana.Object) error
	CreateDatasource(ctx context.Context, ds grafana.Object) (grafana.Object, error)
	UpdateDatasource(ctx context.Context, uid string, ds grafana.Object) (grafana.Object, error)
	CreateSnapshot(ctx context.Context, snapshot grafana.Object) error
	DeleteSnapshot(ctx context.Context, key string) error
	CreateAnnotation(ctx context.Context, annotation grafana.Object) error
	UpdateAnnotation(ctx context.Context, id int64, annotation grafana.Object) error
	CreateLibraryElement(ctx context.Context, element grafana.Object) (grafana.Object, error)
	UpdateLibraryElement(ctx context.Context, uid string, element grafana.Object) (grafana.Object, error)
}

// static check
var _ Destination = grafana.APIClient{}

var errFolderNotFound = errors.New("folder not found on destination")

type Options struct {
	// Operation labels the summary ("migrate", "sync", "restore").
	Operation string
	Overwrite bool
	DryRun    bool
	// Kinds lists the kinds to apply. They are always applied in
	// output.Kinds order.
	Kinds      []output.Kind
	Folders    inventory.Filter
	Dashboards inventory.Filter
	// Now anchors the annotation walk on the destination. Zero means time.Now.
	Now time.Time
}

func (o Options) has(kind output.Kind) bool {
	for _, k := range o.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Reconciler holds the destination state for one run.
type Reconciler struct {
	dest    Destination
	inv     *inventory.Inventory
	log     *logger.LeveledLogger
	opts    Options
	summary *output.Summary

	datasources   []grafana.Object
	uidMapping    map[string]string
	foldersByUID  map[string]grafana.Folder
	foldersByName map[string]string
	preexisting   map[string]bool
	folderUIDs    map[string]string
	dashboards    map[string]bool
	library       map[string]grafana.Object
	snapshots     map[string]bool
	annotations   map[string]int64
}

func New(dest Destination, log *logger.LeveledLogger, opts Options) *Reconciler {
	return &Reconciler{
		dest: dest,
		inv:  inventory.New(dest, log),
		log:  log,
		opts: opts,
	}
}

// Run applies src to the destination. It fails only when the destination
// cannot be enumerated; failures on single objects are recorded in the
// summary and the run continues.
func (r *Reconciler) Run(ctx context.Context, src *inventory.Set) (*output.Summary, error) {
	r.summary = output.NewSummary(r.opts.Operation, r.opts.DryRun)
	if err := r.load(ctx); err != nil {
		return r.summary, err
	}
	r.uidMapping = datasourceMapping(src.Datasources, r.datasources)
	for _, kind := range output.Kinds {
		if !r.opts.has(kind) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.summary, err
		}
		r.log.Verbose().Log("Applying %s", kind)
		switch kind {
		case output.KindDatasource:
			r.applyDatasources(ctx, src.Datasources)
		case output.KindFolder:
			r.applyFolders(ctx, src.Folders)
		case output.KindFolderPermission:
			r.applyFolderPermissions(ctx, src.Folders, src.FolderPermissions)
		case output.KindLibraryPanel:
			r.applyLibraryPanels(ctx, src.LibraryPanels)
		case output.KindDashboard:
			r.applyDashboards(ctx, src.Dashboards)
		case output.KindSnapshot:
			r.applySnapshots(ctx, src.Snapshots)
		case output.KindAnnotation:
			r.applyAnnotations(ctx, src.Annotations)
		}
	}
	return r.summary, nil
}

func (r *Reconciler) load(ctx context.Context) error {
	var err error
	if r.datasources, err = r.inv.Datasources(ctx); err != nil {
		return fmt.Errorf("destination datasources: %w", err)
	}
	r.foldersByUID = map[string]grafana.Folder{}
	r.foldersByName = map[string]string{}
	r.preexisting = map[string]bool{}
	r.folderUIDs = map[string]string{}

	if r.opts.has(output.KindFolder) || r.opts.has(output.KindFolderPermission) ||
		r.opts.has(output.KindLibraryPanel) || r.opts.has(output.KindDashboard) {
		folders, err := r.inv.Folders(ctx, inventory.Filter{})
		if err != nil {
			return fmt.Errorf("destination folders: %w", err)
		}
		for _, f := range folders {
			r.addFolder(f)
			r.preexisting[f.UID] = true
		}
	}
	if r.opts.has(output.KindDashboard) {
		listed, err := r.inv.ListDashboards(ctx)
		if err != nil {
			return fmt.Errorf("destination dashboards: %w", err)
		}
		r.dashboards = make(map[string]bool, len(listed))
		for _, d := range listed {
			r.dashboards[d.UID] = true
		}
	}
	if r.opts.has(output.KindLibraryPanel) {
		elements, err := r.inv.LibraryPanels(ctx, inventory.Filter{})
		if err != nil {
			return fmt.Errorf("destination library panels: %w", err)
		}
		r.library = make(map[string]grafana.Object, len(elements))
		for _, e := range elements {
			r.library[e.String("uid")] = e
		}
	}
	if r.opts.has(output.KindSnapshot) {
		listed, err := r.dest.GetSnapshots(ctx)
		if err != nil {
			return fmt.Errorf("destination snapshots: %w", err)
		}
		r.snapshots = make(map[string]bool, len(listed))
		for _, s := range listed {
			r.snapshots[s.Key] = true
		}
	}
	if r.opts.has(output.KindAnnotation) {
		now := r.opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		annotations, err := r.inv.Annotations(ctx, now)
		if err != nil {
			return fmt.Errorf("destination annotations: %w", err)
		}
		r.annotations = make(map[string]int64, len(annotations))
		for _, a := range annotations {
			r.annotations[inventory.AnnotationID(a)] = a.Int("id")
		}
	}
	return nil
}

func (r *Reconciler) outcome(exists bool) output.Outcome {
	if exists {
		return output.OutcomeOverwritten
	}
	return output.OutcomeCreated
}

// Data sources

func datasourceRefs(objs []grafana.Object) []remap.DatasourceRef {
	refs := make([]remap.DatasourceRef, 0, len(objs))
	for _, o := range objs {
		refs = append(refs, remap.DatasourceRef{UID: o.String("uid"), Name: o.String("name"), Type: o.String("type")})
	}
	return refs
}

func (r *Reconciler) findDatasource(name, typ string) grafana.Object {
	for _, ds := range r.datasources {
		if ds.String("name") == name && ds.String("type") == typ {
			return ds
		}
	}
	return nil
}

func (r *Reconciler) applyDatasources(ctx context.Context, src []grafana.Object) {
	for _, ds := range src {
		name, typ, uid := ds.String("name"), ds.String("type"), ds.String("uid")
		body := ds.Clone()
		delete(body, "id")
		delete(body, "orgId")

		if existing := r.findDatasource(name, typ); existing != nil {
			destUID := existing.String("uid")
			r.uidMapping[uid] = destUID
			if !r.opts.Overwrite {
				r.summary.Add(output.KindDatasource, output.OutcomeSkipped, "", name)
				continue
			}
			if !r.opts.DryRun {
				body["uid"] = destUID
				if _, err := r.dest.UpdateDatasource(ctx, destUID, body); err != nil {
					r.fail(output.KindDatasource, "", name, err)
					continue
				}
			}
			r.summary.Add(output.KindDatasource, output.OutcomeOverwritten, "", name)
			continue
		}

		if r.opts.DryRun {
			r.uidMapping[uid] = uid
			r.summary.Add(output.KindDatasource, output.OutcomeCreated, "", name)
			continue
		}
		created, err := r.dest.CreateDatasource(ctx, body)
		if err != nil {
			r.fail(output.KindDatasource, "", name, err)
			continue
		}
		r.datasources = append(r.datasources, created)
		r.uidMapping[uid] = created.String("uid")
		r.summary.Add(output.KindDatasource, output.OutcomeCreated, "", name)
	}
}

// datasourceMapping maps source uids to destination uids by name and type.
// Destination uids that no source data source claims map to themselves so
// that references already valid on the destination are not reported missing.
func datasourceMapping(src, dest []grafana.Object) map[string]string {
	claimed := map[string]bool{}
	for _, ds := range src {
		claimed[ds.String("uid")] = true
	}
	out := map[string]string{}
	for _, ds := range dest {
		if uid := ds.String("uid"); uid != "" && !claimed[uid] {
			out[uid] = uid
		}
	}
	for k, v := range remap.DatasourceUIDs(datasourceRefs(src), datasourceRefs(dest)) {
		out[k] = v
	}
	return out
}

// remapDatasources rewrites the data source references of doc in place and
// records those without a mapping.
func (r *Reconciler) remapDatasources(doc map[string]interface{}, what string) {
	missing := remap.Datasources(doc, r.uidMapping)
	if len(missing) == 0 {
		return
	}
	r.log.Warn("%s references data sources missing on the destination: %s", what, strings.Join(missing, ", "))
	r.summary.AddMissingDatasources(missing...)
}

// Folders

func (r *Reconciler) addFolder(f grafana.Folder) {
	r.foldersByUID[f.UID] = f
	r.foldersByName[strings.ToLower(f.Title)] = f.UID
}

// lookupFolder finds the destination folder for a source folder, by uid
// first and then by title.
func (r *Reconciler) lookupFolder(uid, title string) (string, bool) {
	if f, ok := r.foldersByUID[uid]; ok && uid != "" && strings.EqualFold(f.Title, title) {
		return uid, true
	}
	destUID, ok := r.foldersByName[strings.ToLower(title)]
	return destUID, ok
}

func (r *Reconciler) createFolder(ctx context.Context, uid, title string) (string, error) {
	if _, taken := r.foldersByUID[uid]; taken {
		uid = ""
	}
	f := grafana.Folder{UID: uid, Title: title}
	if !r.opts.DryRun {
		created, err := r.dest.CreateFolder(ctx, uid, title)
		if err != nil {
			return "", fmt.Errorf("create folder %q: %w", title, err)
		}
		f = *created
	}
	r.addFolder(f)
	r.summary.FolderCreated(title)
	r.log.Verbose().Log("Created folder %q", title)
	return f.UID, nil
}

// ensureFolder returns the destination uid of the folder titled title,
// creating it if needed. The General folder maps to "" and is never created.
func (r *Reconciler) ensureFolder(ctx context.Context, title, srcUID string) (string, error) {
	if grafana.IsGeneralFolder(title) {
		return "", nil
	}
	if uid, ok := r.lookupFolder(srcUID, title); ok {
		return uid, nil
	}
	return r.createFolder(ctx, srcUID, title)
}

func (r *Reconciler) applyFolders(ctx context.Context, src []grafana.Folder) {
	for _, f := range src {
		if grafana.IsGeneralFolder(f.Title) || !r.opts.Folders.Allows(f.Title) {
			continue
		}
		if destUID, exists := r.lookupFolder(f.UID, f.Title); exists {
			r.folderUIDs[f.UID] = destUID
			if !r.opts.Overwrite {
				r.summary.Add(output.KindFolder, output.OutcomeSkipped, f.Title, f.Title)
				continue
			}
			if !r.opts.DryRun {
				if _, err := r.dest.UpdateFolder(ctx, destUID, f.Title, true); err != nil {
					r.fail(output.KindFolder, f.Title, f.Title, err)
					continue
				}
			}
			r.summary.Add(output.KindFolder, output.OutcomeOverwritten, f.Title, f.Title)
			continue
		}
		destUID, err := r.createFolder(ctx, f.UID, f.Title)
		if err != nil {
			r.fail(output.KindFolder, f.Title, f.Title, err)
			continue
		}
		r.folderUIDs[f.UID] = destUID
		r.summary.Add(output.KindFolder, output.OutcomeCreated, f.Title, f.Title)
	}
}

func (r *Reconciler) applyFolderPermissions(ctx context.Context, folders []grafana.Folder, perms map[string][]grafana.Object) {
	titles := make(map[string]string, len(folders))
	for _, f := range folders {
		titles[f.UID] = f.Title
	}
	uids := make([]string, 0, len(perms))
	for uid := range perms {
		uids = append(uids, uid)
	}
	sort.Strings(uids)

	for _, uid := range uids {
		title := titles[uid]
		if title == "" {
			title = uid
		}
		if !r.opts.Folders.Allows(title) {
			continue
		}
		destUID, ok := r.folderUIDs[uid]
		if !ok {
			destUID, ok = r.lookupFolder(uid, title)
		}
		if !ok {
			r.fail(output.KindFolderPermission, title, title, errFolderNotFound)
			continue
		}
		existed := r.preexisting[destUID]
		if existed && !r.opts.Overwrite {
			r.summary.Add(output.KindFolderPermission, output.OutcomeSkipped, title, title)
			continue
		}
		if !r.opts.DryRun {
			if err := r.dest.UpdateFolderPermissions(ctx, destUID, grafana.PermissionItems(perms[uid])); err != nil {
				r.fail(output.KindFolderPermission, title, title, err)
				continue
			}
		}
		r.summary.Add(output.KindFolderPermission, r.outcome(existed), title, title)
	}
}

// Library panels

func (r *Reconciler) applyLibraryPanels(ctx context.Context, src []grafana.Object) {
	for _, e := range src {
		uid, name := e.String("uid"), e.String("name")
		folder := inventory.LibraryPanelFolder(e)
		if !r.opts.Folders.Allows(folder) {
			continue
		}
		existing, exists := r.library[uid]
		if exists && !r.opts.Overwrite {
			r.summary.Add(output.KindLibraryPanel, output.OutcomeSkipped, folder, name)
			continue
		}
		folderUID, err := r.ensureFolder(ctx, folder, e.Map("meta").String("folderUid"))
		if err != nil {
			r.fail(output.KindLibraryPanel, folder, name, err)
			continue
		}
		model := e.Map("model").Clone()
		r.remapDatasources(model, fmt.Sprintf("Library panel %q", name))
		body := grafana.Object{
			"uid":   uid,
			"name":  name,
			"kind":  e.Int("kind"),
			"model": map[string]interface{}(model),
		}
		if folderUID != "" {
			body["folderUid"] = folderUID
		}
		if r.opts.DryRun {
			r.summary.Add(output.KindLibraryPanel, r.outcome(exists), folder, name)
			continue
		}
		if exists {
			body["version"] = existing.Int("version")
			_, err = r.dest.UpdateLibraryElement(ctx, uid, body)
		} else {
			_, err = r.dest.CreateLibraryElement(ctx, body)
		}
		if err != nil {
			r.fail(output.KindLibraryPanel, folder, name, err)
			continue
		}
		r.summary.Add(output.KindLibraryPanel, r.outcome(exists), folder, name)
	}
}

// Dashboards

func (r *Reconciler) applyDashboards(ctx context.Context, src []grafana.DashboardDefinition) {
	for _, def := range src {
		uid, title, folder := def.UID(), def.Title(), def.FolderTitle()
		if def.Meta.Provisioned {
			r.log.Verbose().Log("Skipping provisioned dashboard %q", title)
			continue
		}
		if !r.opts.Folders.Allows(folder) || !r.opts.Dashboards.Allows(title) {
			r.log.Verbose().Log("Skipping dashboard %q in folder %q", title, folder)
			continue
		}
		exists := uid != "" && r.dashboards[uid]
		if exists && !r.opts.Overwrite {
			r.summary.Add(output.KindDashboard, output.OutcomeSkipped, folder, title)
			continue
		}
		folderUID, err := r.ensureFolder(ctx, folder, def.Meta.FolderUID)
		if err != nil {
			r.fail(output.KindDashboard, folder, title, err)
			continue
		}
		body := def.Dashboard.Clone()
		delete(body, "id")
		r.remapDatasources(body, fmt.Sprintf("Dashboard %q", title))
		if r.opts.DryRun {
			r.summary.Add(output.KindDashboard, r.outcome(exists), folder, title)
			continue
		}
		if exists {
			if err := r.dest.DeleteDashboard(ctx, uid); err != nil {
				r.fail(output.KindDashboard, folder, title, fmt.Errorf("delete: %w", err))
				continue
			}
		}
		if _, err := r.dest.CreateDashboard(ctx, grafana.CreateDashboardRequest{
			Dashboard: body,
			FolderUID: folderUID,
			Overwrite: r.opts.Overwrite,
			Message:   "amgctl " + r.opts.Operation,
		}); err != nil {
			r.fail(output.KindDashboard, folder, title, err)
			continue
		}
		r.dashboards[uid] = true
		r.summary.Add(output.KindDashboard, r.outcome(exists), folder, title)
	}
}

// Snapshots

func (r *Reconciler) applySnapshots(ctx context.Context, src []grafana.Object) {
	for _, s := range src {
		key, name := s.String("key"), s.String("name")
		if name == "" {
			name = key
		}
		exists := key != "" && r.snapshots[key]
		if exists && !r.opts.Overwrite {
			r.summary.Add(output.KindSnapshot, output.OutcomeSkipped, "", name)
			continue
		}
		dashboard := s.Map("dashboard").Clone()
		r.remapDatasources(dashboard, fmt.Sprintf("Snapshot %q", name))
		if r.opts.DryRun {
			r.summary.Add(output.KindSnapshot, r.outcome(exists), "", name)
			continue
		}
		if exists {
			if err := r.dest.DeleteSnapshot(ctx, key); err != nil {
				r.fail(output.KindSnapshot, "", name, fmt.Errorf("delete: %w", err))
				continue
			}
		}
		body := grafana.Object{
			"dashboard": map[string]interface{}(dashboard),
			"name":      s.String("name"),
		}
		if key != "" {
			body["key"] = key
		}
		if err := r.dest.CreateSnapshot(ctx, body); err != nil {
			r.fail(output.KindSnapshot, "", name, err)
			continue
		}
		r.snapshots[key] = true
		r.summary.Add(output.KindSnapshot, r.outcome(exists), "", name)
	}
}

// Annotations

func (r *Reconciler) applyAnnotations(ctx context.Context, src []grafana.Object) {
	for _, a := range src {
		id := inventory.AnnotationID(a)
		destID, exists := r.annotations[id]
		if exists && !r.opts.Overwrite {
			r.summary.Add(output.KindAnnotation, output.OutcomeSkipped, "", id)
			continue
		}
		if r.opts.DryRun {
			r.summary.Add(output.KindAnnotation, r.outcome(exists), "", id)
			continue
		}
		body := inventory.AnnotationBody(a)
		var err error
		if exists {
			err = r.dest.UpdateAnnotation(ctx, destID, body)
		} else {
			err = r.dest.CreateAnnotation(ctx, body)
		}
		if err != nil {
			r.fail(output.KindAnnotation, "", id, err)
			continue
		}
		r.summary.Add(output.KindAnnotation, r.outcome(exists), "", id)
	}
}

func (r *Reconciler) fail(kind output.Kind, folder, name string, err error) {
	r.log.Error("%s %q: %v", strings.TrimSuffix(string(kind), "s"), name, err)
	r.summary.Fail(kind, folder, name, err)
}
