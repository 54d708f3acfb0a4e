// Package backup writes the objects of a Grafana instance to a gzip tarball
// and restores them from one.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/archive"
	"github.com/grafana/amgctl/inventory"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
)

// DefaultComponents are backed up and restored when no component is named.
var DefaultComponents = []output.Kind{
	output.KindDashboard,
	output.KindFolder,
	output.KindSnapshot,
	output.KindAnnotation,
}

// Components lists the names accepted by ParseComponents.
var Components = []output.Kind{
	output.KindDatasource,
	output.KindFolder,
	output.KindLibraryPanel,
	output.KindDashboard,
	output.KindSnapshot,
	output.KindAnnotation,
}

// ParseComponents validates component names, returning defaults when none
// is given. Folder permissions travel with folders and are added whenever
// folders are.
func ParseComponents(names []string, defaults []output.Kind) ([]output.Kind, error) {
	if len(names) == 0 {
		return withPermissions(defaults), nil
	}
	var out []output.Kind
	for _, name := range names {
		kind, ok := lookupComponent(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("unknown component %q, expected one of %s", name, componentNames())
		}
		out = append(out, kind)
	}
	return withPermissions(out), nil
}

func lookupComponent(name string) (output.Kind, bool) {
	for _, k := range Components {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

func componentNames() string {
	names := make([]string, 0, len(Components))
	for _, k := range Components {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func withPermissions(kinds []output.Kind) []output.Kind {
	out := append([]output.Kind(nil), kinds...)
	var hasFolders, hasPermissions bool
	for _, k := range kinds {
		hasFolders = hasFolders || k == output.KindFolder
		hasPermissions = hasPermissions || k == output.KindFolderPermission
	}
	if hasFolders && !hasPermissions {
		out = append(out, output.KindFolderPermission)
	}
	return out
}

// withDatasources adds data sources to kinds. Archives always carry them so
// a restore can remap dashboard references.
func withDatasources(kinds []output.Kind) []output.Kind {
	for _, k := range kinds {
		if k == output.KindDatasource {
			return kinds
		}
	}
	return append([]output.Kind{output.KindDatasource}, kinds...)
}

type Options struct {
	// Workspace prefixes the archive name.
	Workspace  string
	Directory  string
	Kinds      []output.Kind
	Folders    inventory.Filter
	Dashboards inventory.Filter
	// KeepFiles leaves the intermediate directories next to the archive.
	KeepFiles bool
	Now       time.Time
}

// Backup enumerates the instance behind client and writes it to an archive
// in opts.Directory. Data sources are written whether or not they were
// requested. The summary records every object written.
func Backup(ctx context.Context, client inventory.Reader, log *logger.LeveledLogger, opts Options) (*output.Summary, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	set, err := inventory.New(client, log).Collect(ctx, inventory.Options{
		Kinds:      withDatasources(opts.Kinds),
		Folders:    opts.Folders,
		Dashboards: opts.Dashboards,
		Now:        now,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %q: %w", opts.Directory, err)
	}
	summary := output.NewSummary("backup", false)
	ts := now.Format(archive.TimestampFormat)
	dirs, err := Write(set, opts.Directory, ts, summary)
	if err != nil {
		return summary, err
	}

	archivePath := filepath.Join(opts.Directory, archive.Name(opts.Workspace, now))
	log.Verbose().Log("Writing archive %s", archivePath)
	entries := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		entries = append(entries, filepath.Join(dir, ts))
	}
	if err := archive.Create(archivePath, opts.Directory, entries); err != nil {
		return summary, fmt.Errorf("archive: %w", err)
	}
	summary.Archive = archivePath

	if opts.KeepFiles {
		log.Verbose().Log("Keeping intermediate files in %s", opts.Directory)
		return summary, nil
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(filepath.Join(opts.Directory, dir, ts)); err != nil {
			log.Warn("remove %s: %v", dir, err)
			continue
		}
		// Drop the component directory only if nothing else lives there.
		_ = os.Remove(filepath.Join(opts.Directory, dir))
	}
	return summary, nil
}

// folderPermissions is the document written for the permissions of a folder.
type folderPermissions struct {
	UID   string           `json:"uid"`
	Title string           `json:"title"`
	Items []grafana.Object `json:"items"`
}

// Write stores every object of set under root as
// <component>/<ts>/<uid>.<ext> and returns the relative component
// directories written.
func Write(set *inventory.Set, root, ts string, summary *output.Summary) ([]string, error) {
	w := writer{root: root, ts: ts, dirs: map[string]bool{}}

	for _, ds := range set.Datasources {
		if err := w.write(output.KindDatasource, output.KindDatasource, ds.String("uid"), ds); err != nil {
			return nil, err
		}
		summary.Add(output.KindDatasource, output.OutcomeCreated, "", ds.String("name"))
	}
	titles := map[string]string{}
	for _, f := range set.Folders {
		titles[f.UID] = f.Title
		if err := w.write(output.KindFolder, output.KindFolder, f.UID, f); err != nil {
			return nil, err
		}
		summary.Add(output.KindFolder, output.OutcomeCreated, f.Title, f.Title)
	}
	for uid, perms := range set.FolderPermissions {
		doc := folderPermissions{UID: uid, Title: titles[uid], Items: perms}
		if err := w.write(output.KindFolder, output.KindFolderPermission, uid, doc); err != nil {
			return nil, err
		}
		summary.Add(output.KindFolderPermission, output.OutcomeCreated, doc.Title, doc.Title)
	}
	for _, e := range set.LibraryPanels {
		if err := w.write(output.KindLibraryPanel, output.KindLibraryPanel, e.String("uid"), e); err != nil {
			return nil, err
		}
		summary.Add(output.KindLibraryPanel, output.OutcomeCreated, inventory.LibraryPanelFolder(e), e.String("name"))
	}
	for _, d := range set.Dashboards {
		if err := w.write(output.KindDashboard, output.KindDashboard, d.UID(), d); err != nil {
			return nil, err
		}
		summary.Add(output.KindDashboard, output.OutcomeCreated, d.FolderTitle(), d.Title())
	}
	for _, s := range set.Snapshots {
		if err := w.write(output.KindSnapshot, output.KindSnapshot, s.String("key"), s); err != nil {
			return nil, err
		}
		summary.Add(output.KindSnapshot, output.OutcomeCreated, "", s.String("name"))
	}
	for _, a := range set.Annotations {
		id := inventory.AnnotationID(a)
		if err := w.write(output.KindAnnotation, output.KindAnnotation, id, a); err != nil {
			return nil, err
		}
		summary.Add(output.KindAnnotation, output.OutcomeCreated, "", id)
	}

	var dirs []string
	for _, kind := range output.Kinds {
		if w.dirs[string(kind)] {
			dirs = append(dirs, string(kind))
		}
	}
	return dirs, nil
}

type writer struct {
	root string
	ts   string
	dirs map[string]bool
}

func (w writer) write(dir, kind output.Kind, uid string, v interface{}) error {
	path := filepath.Join(w.root, string(dir), w.ts, FileName(uid)+"."+archive.Extension(string(kind)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%s %q marshal: %w", kind, uid, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("%s %q write: %w", kind, uid, err)
	}
	w.dirs[string(dir)] = true
	return nil
}

// FileName turns an object uid into a safe file name.
func FileName(uid string) string {
	if uid == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, uid)
}
