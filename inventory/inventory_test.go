package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/amgctl/api/grafana"
	"github.com/grafana/amgctl/api/grafana/grafanatest"
	"github.com/grafana/amgctl/logger"
	"github.com/grafana/amgctl/output"
)

func TestPaginate(t *testing.T) {
	t.Run("full page triggers another request", func(t *testing.T) {
		var pages []int
		out, err := Paginate(context.Background(), func(ctx context.Context, page int) ([]int, error) {
			pages = append(pages, page)
			if page == 1 {
				return make([]int, grafana.PageSize), nil
			}
			return nil, nil
		})
		require.NoError(t, err)
		require.Len(t, out, grafana.PageSize)
		require.Equal(t, []int{1, 2}, pages)
	})

	t.Run("empty first page stops", func(t *testing.T) {
		var calls int
		out, err := Paginate(context.Background(), func(ctx context.Context, page int) ([]string, error) {
			calls++
			return []string{}, nil
		})
		require.NoError(t, err)
		require.Empty(t, out)
		require.Equal(t, 1, calls)
	})

	t.Run("error stops", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Paginate(context.Background(), func(ctx context.Context, page int) ([]string, error) {
			if page == 2 {
				return nil, boom
			}
			return []string{"x"}, nil
		})
		require.ErrorIs(t, err, boom)
	})

	t.Run("max pages guard", func(t *testing.T) {
		prev := MaxPages
		MaxPages = 3
		defer func() { MaxPages = prev }()
		out, err := Paginate(context.Background(), func(ctx context.Context, page int) ([]int, error) {
			return []int{page}, nil
		})
		require.ErrorIs(t, err, ErrTooManyPages)
		require.Equal(t, []int{1, 2, 3}, out)
	})
}

func TestFilter(t *testing.T) {
	require.True(t, Filter{}.Allows("anything"))
	f := Filter{Include: []string{"Team A", "general"}}
	require.True(t, f.Allows("team a"))
	require.True(t, f.Allows("General"))
	require.False(t, f.Allows("Team B"))
	f = Filter{Exclude: []string{"Team B"}}
	require.True(t, f.Allows("Team A"))
	require.False(t, f.Allows("TEAM B"))
	require.True(t, f.Allows("Team"), "match is exact")
	require.False(t, Filter{Include: []string{"Team B"}}.Allows("Team"), "match is exact")
}

func TestAnnotationTimeWindows(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	windows := AnnotationTimeWindows(now)
	require.Len(t, windows, 13)
	require.Equal(t, Window{From: now.Add(-31 * 24 * time.Hour), To: now}, windows[0])
	require.Equal(t, Window{From: now.Add(-62 * 24 * time.Hour), To: now.Add(-31 * 24 * time.Hour)}, windows[1])
	for i := 1; i < len(windows); i++ {
		require.Equal(t, windows[i-1].From, windows[i].To, "window %d is contiguous", i)
	}
	require.Equal(t, now.Add(-13*31*24*time.Hour), windows[12].From)
}

func TestAnnotationID(t *testing.T) {
	a := grafana.Object{"id": float64(1), "dashboardUID": "d1", "panelId": float64(2), "time": float64(1000), "text": "deploy"}
	b := grafana.Object{"id": float64(99), "dashboardUID": "d1", "panelId": float64(2), "time": float64(1000), "text": "deploy"}
	c := grafana.Object{"id": float64(1), "dashboardUID": "d1", "panelId": float64(2), "time": float64(1000), "text": "rollback"}
	require.Equal(t, AnnotationID(a), AnnotationID(b))
	require.NotEqual(t, AnnotationID(a), AnnotationID(c))

	body := AnnotationBody(a)
	require.NotContains(t, body, "id")
	require.Equal(t, "d1", body["dashboardUID"])
}

func TestCollect(t *testing.T) {
	srv := grafanatest.NewServer()
	defer srv.Close()

	srv.AddFolder("fa", "Team A")
	srv.AddFolder("fb", "Team B")
	srv.SetFolderPermissions("fa", []grafana.Object{{"role": "Viewer", "permission": float64(1)}})
	srv.AddDashboard(grafana.Object{"uid": "d1", "title": "CPU"}, "fa", false)
	srv.AddDashboard(grafana.Object{"uid": "d2", "title": "Mem"}, "fb", false)
	srv.AddDashboard(grafana.Object{"uid": "d3", "title": "Home"}, "", false)
	srv.AddDashboard(grafana.Object{"uid": "p1", "title": "Provisioned"}, "fa", true)
	srv.AddDatasource(grafana.Object{"uid": "A", "name": "prom", "type": "prometheus"})
	srv.AddSnapshot("s1", "snap", grafana.Object{"title": "CPU"})
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	srv.AddAnnotation(grafana.Object{"time": float64(now.Add(-24 * time.Hour).UnixMilli()), "text": "recent"})
	srv.AddAnnotation(grafana.Object{"time": float64(now.Add(-100 * 24 * time.Hour).UnixMilli()), "text": "older"})
	srv.AddAnnotation(grafana.Object{"time": float64(now.Add(-500 * 24 * time.Hour).UnixMilli()), "text": "ancient"})
	srv.AddLibraryElement(grafana.Object{"uid": "lib1", "name": "lp", "kind": float64(1), "meta": map[string]interface{}{"folderName": "Team A"}})

	inv := New(srv.Client(), logger.Discard())

	t.Run("everything", func(t *testing.T) {
		set, err := inv.Collect(context.Background(), Options{Kinds: output.Kinds, Now: now})
		require.NoError(t, err)
		require.Len(t, set.Datasources, 1)
		require.Len(t, set.Folders, 2)
		require.Len(t, set.FolderPermissions["fa"], 1)
		require.Len(t, set.LibraryPanels, 1)
		require.Len(t, set.Snapshots, 1)
		require.Equal(t, "s1", set.Snapshots[0].String("key"))
		require.Len(t, set.Annotations, 2)

		var uids []string
		for _, d := range set.Dashboards {
			uids = append(uids, d.UID())
		}
		require.ElementsMatch(t, []string{"d1", "d2", "d3"}, uids, "provisioned dashboards are skipped")
		require.Equal(t, 13, srv.CountRequests("GET", "/api/annotations"))
	})

	t.Run("folder filters", func(t *testing.T) {
		set, err := inv.Collect(context.Background(), Options{
			Kinds:   []output.Kind{output.KindDashboard, output.KindFolder, output.KindLibraryPanel},
			Folders: Filter{Include: []string{"team a", "general"}},
		})
		require.NoError(t, err)
		require.Len(t, set.Folders, 1)
		require.Len(t, set.LibraryPanels, 1)
		var uids []string
		for _, d := range set.Dashboards {
			uids = append(uids, d.UID())
		}
		require.ElementsMatch(t, []string{"d1", "d3"}, uids)
	})

	t.Run("dashboard filters", func(t *testing.T) {
		set, err := inv.Collect(context.Background(), Options{
			Kinds:      []output.Kind{output.KindDashboard},
			Dashboards: Filter{Exclude: []string{"cpu"}},
		})
		require.NoError(t, err)
		require.Len(t, set.Dashboards, 2)
		require.Nil(t, set.Folders)
	})
}
