package backup

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/api/grafana/grafanatest"
	"github.com/grafana/amgctl/archive"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
)

var now = time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)

func newSource(t *testing.T) *grafanatest.Server {
	t.Helper()
	src := grafanatest.NewServer()
	t.Cleanup(src.Close)
	src.AddFolder("fa", "Team A")
	src.SetFolderPermissions("fa", []grafana.Object{{"role": "Editor", "permission": float64(2)}})
	src.AddDashboard(grafana.Object{"uid": "d1", "title": "CPU"}, "fa", false)
	src.AddDashboard(grafana.Object{"uid": "d2", "title": "Home"}, "", false)
	src.AddDashboard(grafana.Object{"uid": "p1", "title": "Provisioned"}, "fa", true)
	src.AddSnapshot("s1", "snap", grafana.Object{"title": "CPU"})
	src.AddAnnotation(grafana.Object{"time": float64(now.Add(-time.Hour).UnixMilli()), "text": "deploy"})
	return src
}

func TestParseComponents(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		kinds, err := ParseComponents(nil, DefaultComponents)
		require.NoError(t, err)
		require.Equal(t, []output.Kind{
			output.KindDashboard, output.KindFolder, output.KindSnapshot, output.KindAnnotation, output.KindFolderPermission,
		}, kinds)
	})

	t.Run("explicit", func(t *testing.T) {
		kinds, err := ParseComponents([]string{"Datasources", " library_panels"}, DefaultComponents)
		require.NoError(t, err)
		require.Equal(t, []output.Kind{output.KindDatasource, output.KindLibraryPanel}, kinds)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ParseComponents([]string{"dashboards", "alerts"}, DefaultComponents)
		require.ErrorContains(t, err, `unknown component "alerts"`)
	})
}

func TestFileName(t *testing.T) {
	require.Equal(t, "abc-DEF_1", FileName("abc-DEF_1"))
	require.Equal(t, "a_b_c", FileName("a/b.c"))
	require.Equal(t, "_", FileName(""))
}

func TestBackup(t *testing.T) {
	src := newSource(t)
	kinds, err := ParseComponents(nil, DefaultComponents)
	require.NoError(t, err)

	t.Run("intermediate files are removed", func(t *testing.T) {
		dir := t.TempDir()
		summary, err := Backup(context.Background(), src.Client(), logger.Discard(), Options{
			Workspace: "ws", Directory: dir, Kinds: kinds, Now: now,
		})
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, "ws-202406011030.tar.gz"), summary.Archive)
		require.FileExists(t, summary.Archive)
		require.Equal(t, []string{"CPU", "Home"}, summary.Names(output.KindDashboard, output.OutcomeCreated))
		require.Equal(t, 1, summary.Count(output.KindFolderPermission, output.OutcomeCreated))

		_, err = os.Stat(filepath.Join(dir, "dashboards"))
		require.True(t, os.IsNotExist(err))

		extracted := t.TempDir()
		require.NoError(t, archive.Extract(summary.Archive, extracted))
		files, err := archive.Find(extracted, "dashboard")
		require.NoError(t, err)
		require.Equal(t, []string{
			filepath.Join(extracted, "dashboards", "202406011030", "d1.dashboard"),
			filepath.Join(extracted, "dashboards", "202406011030", "d2.dashboard"),
		}, files)
		perms, err := archive.Find(extracted, "folder_permission")
		require.NoError(t, err)
		require.Equal(t, []string{filepath.Join(extracted, "folders", "202406011030", "fa.folder_permission")}, perms)
	})

	t.Run("keep files", func(t *testing.T) {
		dir := t.TempDir()
		_, err := Backup(context.Background(), src.Client(), logger.Discard(), Options{
			Workspace: "ws", Directory: dir, Kinds: kinds, Now: now, KeepFiles: true,
		})
		require.NoError(t, err)
		require.FileExists(t, filepath.Join(dir, "folders", "202406011030", "fa.folder"))
		require.FileExists(t, filepath.Join(dir, "snapshots", "202406011030", "s1.snapshot"))
	})

	t.Run("listing failure", func(t *testing.T) {
		failing := newSource(t)
		failing.FailOn(http.MethodGet, "/api/search", http.StatusForbidden)
		_, err := Backup(context.Background(), failing.Client(), logger.Discard(), Options{
			Workspace: "ws", Directory: t.TempDir(), Kinds: kinds, Now: now,
		})
		require.ErrorContains(t, err, "dashboards")
	})
}

func TestRestore(t *testing.T) {
	src := newSource(t)
	kinds, err := ParseComponents(nil, DefaultComponents)
	require.NoError(t, err)
	summary, err := Backup(context.Background(), src.Client(), logger.Discard(), Options{
		Workspace: "ws", Directory: t.TempDir(), Kinds: kinds, Now: now,
	})
	require.NoError(t, err)
	archivePath := summary.Archive

	dst := grafanatest.NewServer()
	defer dst.Close()

	t.Run("into an empty instance", func(t *testing.T) {
		summary, err := Restore(context.Background(), dst.Client(), logger.Discard(), RestoreOptions{
			ArchivePath: archivePath, Kinds: kinds, Now: now,
		})
		require.NoError(t, err)
		require.False(t, summary.Failed())
		require.Equal(t, archivePath, summary.Archive)

		d1, ok := dst.Dashboard("d1")
		require.True(t, ok)
		require.Equal(t, "fa", d1.Meta.FolderUID)
		d2, ok := dst.Dashboard("d2")
		require.True(t, ok)
		require.Empty(t, d2.Meta.FolderUID)
		_, ok = dst.Dashboard("p1")
		require.False(t, ok)

		require.Equal(t, "Editor", dst.FolderPermissions("fa")[0].String("role"))
		_, ok = dst.Snapshot("s1")
		require.True(t, ok)
		require.Len(t, dst.Annotations(), 1)
	})

	t.Run("components are restored in order", func(t *testing.T) {
		order := map[string]int{}
		for i, r := range dst.Mutations() {
			if _, seen := order[r.String()]; !seen {
				order[r.String()] = i
			}
		}
		folder := order["POST /api/folders"]
		permissions := order["POST /api/folders/fa/permissions"]
		dashboards := order["POST /api/dashboards/db"]
		snapshots := order["POST /api/snapshots"]
		annotations := order["POST /api/annotations"]
		require.Less(t, folder, permissions)
		require.Less(t, permissions, dashboards)
		require.Less(t, dashboards, snapshots)
		require.Less(t, snapshots, annotations)
	})

	t.Run("again without overwrite", func(t *testing.T) {
		before := len(dst.Mutations())
		summary, err := Restore(context.Background(), dst.Client(), logger.Discard(), RestoreOptions{
			ArchivePath: archivePath, Kinds: kinds, Now: now,
		})
		require.NoError(t, err)
		require.Len(t, dst.Mutations(), before)
		require.Equal(t, 2, summary.Count(output.KindDashboard, output.OutcomeSkipped))
		require.Equal(t, 1, summary.Count(output.KindAnnotation, output.OutcomeSkipped))
	})

	t.Run("missing archive", func(t *testing.T) {
		_, err := Restore(context.Background(), dst.Client(), logger.Discard(), RestoreOptions{
			ArchivePath: filepath.Join(t.TempDir(), "nope.tar.gz"), Kinds: kinds,
		})
		require.Error(t, err)
	})
}

func TestRestoreRemapsDatasources(t *testing.T) {
	src := grafanatest.NewServer()
	defer src.Close()
	src.AddDatasource(grafana.Object{"uid": "A", "name": "ds1", "type": "prometheus"})
	src.AddDashboard(grafana.Object{
		"uid":   "d1",
		"title": "CPU",
		"panels": []interface{}{
			map[string]interface{}{"type": "timeseries", "datasource": map[string]interface{}{"uid": "A"}},
		},
	}, "", false)

	kinds := []output.Kind{output.KindDashboard}
	summary, err := Backup(context.Background(), src.Client(), logger.Discard(), Options{
		Workspace: "ws", Directory: t.TempDir(), Kinds: kinds, Now: now,
	})
	require.NoError(t, err)

	dst := grafanatest.NewServer()
	defer dst.Close()
	dst.AddDatasource(grafana.Object{"uid": "B", "name": "ds1", "type": "prometheus"})

	restored, err := Restore(context.Background(), dst.Client(), logger.Discard(), RestoreOptions{
		ArchivePath: summary.Archive, Kinds: kinds, Now: now,
	})
	require.NoError(t, err)
	require.Empty(t, restored.MissingDatasources)
	require.Zero(t, dst.CountRequests(http.MethodPost, "/api/datasources"))
	require.Len(t, dst.Datasources(), 1)

	d1, ok := dst.Dashboard("d1")
	require.True(t, ok)
	panels := d1.Dashboard["panels"].([]interface{})
	ds := panels[0].(map[string]interface{})["datasource"].(map[string]interface{})
	require.Equal(t, "B", ds["uid"])
}

func TestLoadSkipsBadFiles(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "dashboards", "202406011030")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.dashboard"), []byte(`{"dashboard":{"uid":"ok","title":"OK"},"meta":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.dashboard"), []byte(`{`), 0o644))

	set, err := Load(root, []output.Kind{output.KindDashboard, output.KindFolder}, logger.Discard())
	require.NoError(t, err)
	require.Len(t, set.Dashboards, 1)
	require.Equal(t, "ok", set.Dashboards[0].UID())
	require.Empty(t, set.Folders)
}
