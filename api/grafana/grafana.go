package grafana

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/grafana/amgctl/api"
)

const DefaultBaseURL = "http://127.0.0.1:3000"

// PageSize is the page size used by every paged endpoint.
const PageSize = 5000

type APIClient struct {
	api.Client
}

func NewAPIClient(baseURL string, opts ...api.ClientOption) APIClient {
	return APIClient{
		Client: api.NewClient(baseURL, opts...),
	}
}

func pageQuery(page int) string {
	return url.Values{
		"limit": []string{strconv.Itoa(PageSize)},
		"page":  []string{strconv.Itoa(page)},
	}.Encode()
}

// Dashboards

func (cl APIClient) SearchDashboards(ctx context.Context, page int) ([]ListedDashboard, error) {
	var out []ListedDashboard
	err := cl.Request(ctx, http.MethodGet, "api/search?type=dash-db&"+pageQuery(page), nil, &out)
	return out, err
}

func (cl APIClient) GetDashboard(ctx context.Context, uid string) (*DashboardDefinition, error) {
	var out DashboardDefinition
	if err := cl.Request(ctx, http.MethodGet, "api/dashboards/uid/"+url.PathEscape(uid), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cl APIClient) CreateDashboard(ctx context.Context, req CreateDashboardRequest) (*CreateDashboardResponse, error) {
	var out CreateDashboardResponse
	if err := cl.Request(ctx, http.MethodPost, "api/dashboards/db", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cl APIClient) DeleteDashboard(ctx context.Context, uid string) error {
	return cl.Request(ctx, http.MethodDelete, "api/dashboards/uid/"+url.PathEscape(uid), nil, nil)
}

// Folders

func (cl APIClient) GetFolders(ctx context.Context, page int) ([]Folder, error) {
	var out []Folder
	err := cl.Request(ctx, http.MethodGet, "api/folders?"+pageQuery(page), nil, &out)
	return out, err
}

func (cl APIClient) GetFolder(ctx context.Context, uid string) (*Folder, error) {
	var out Folder
	if err := cl.Request(ctx, http.MethodGet, "api/folders/"+url.PathEscape(uid), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cl APIClient) CreateFolder(ctx context.Context, uid, title string) (*Folder, error) {
	var out Folder
	in := Folder{UID: uid, Title: title}
	if err := cl.Request(ctx, http.MethodPost, "api/folders", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cl APIClient) UpdateFolder(ctx context.Context, uid, title string, overwrite bool) (*Folder, error) {
	var out Folder
	in := map[string]interface{}{
		"title":     title,
		"overwrite": overwrite,
	}
	if err := cl.Request(ctx, http.MethodPut, "api/folders/"+url.PathEscape(uid), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (cl APIClient) GetFolderPermissions(ctx context.Context, uid string) ([]Object, error) {
	var out []Object
	err := cl.Request(ctx, http.MethodGet, "api/folders/"+url.PathEscape(uid)+"/permissions", nil, &out)
	return out, err
}

func (cl APIClient) UpdateFolderPermissions(ctx context.Context, uid string, items []Object) error {
	in := map[string]interface{}{"items": items}
	return cl.Request(ctx, http.MethodPost, "api/folders/"+url.PathEscape(uid)+"/permissions", in, nil)
}

// Data sources

func (cl APIClient) GetDatasources(ctx context.Context) ([]Object, error) {
	var out []Object
	err := cl.Request(ctx, http.MethodGet, "api/datasources", nil, &out)
	return out, err
}

// CreateDatasource creates a data source and returns it as stored by Grafana.
func (cl APIClient) CreateDatasource(ctx context.Context, ds Object) (Object, error) {
	var out datasourceResponse
	if err := cl.Request(ctx, http.MethodPost, "api/datasources", ds, &out); err != nil {
		return nil, err
	}
	return out.Datasource, nil
}

func (cl APIClient) UpdateDatasource(ctx context.Context, uid string, ds Object) (Object, error) {
	var out datasourceResponse
	if err := cl.Request(ctx, http.MethodPut, "api/datasources/uid/"+url.PathEscape(uid), ds, &out); err != nil {
		return nil, err
	}
	return out.Datasource, nil
}

// Snapshots

func (cl APIClient) GetSnapshots(ctx context.Context) ([]ListedSnapshot, error) {
	var out []ListedSnapshot
	err := cl.Request(ctx, http.MethodGet, "api/dashboard/snapshots?limit="+strconv.Itoa(PageSize), nil, &out)
	return out, err
}

func (cl APIClient) GetSnapshot(ctx context.Context, key string) (Object, error) {
	var out Object
	err := cl.Request(ctx, http.MethodGet, "api/snapshots/"+url.PathEscape(key), nil, &out)
	return out, err
}

func (cl APIClient) CreateSnapshot(ctx context.Context, snapshot Object) error {
	return cl.Request(ctx, http.MethodPost, "api/snapshots", snapshot, nil)
}

func (cl APIClient) DeleteSnapshot(ctx context.Context, key string) error {
	return cl.Request(ctx, http.MethodDelete, "api/snapshots/"+url.PathEscape(key), nil, nil)
}

// Annotations

// GetAnnotations returns the annotations with a time in [from, to].
func (cl APIClient) GetAnnotations(ctx context.Context, from, to time.Time) ([]Object, error) {
	var out []Object
	err := cl.Request(ctx, http.MethodGet, "api/annotations?"+url.Values{
		"type":  []string{"annotation"},
		"from":  []string{strconv.FormatInt(from.UnixMilli(), 10)},
		"to":    []string{strconv.FormatInt(to.UnixMilli(), 10)},
		"limit": []string{strconv.Itoa(PageSize)},
	}.Encode(), nil, &out)
	return out, err
}

func (cl APIClient) CreateAnnotation(ctx context.Context, annotation Object) error {
	return cl.Request(ctx, http.MethodPost, "api/annotations", annotation, nil)
}

func (cl APIClient) UpdateAnnotation(ctx context.Context, id int64, annotation Object) error {
	return cl.Request(ctx, http.MethodPut, "api/annotations/"+strconv.FormatInt(id, 10), annotation, nil)
}

// Library panels

func (cl APIClient) GetLibraryElements(ctx context.Context, page int) ([]Object, error) {
	var out libraryElementsPage
	err := cl.Request(ctx, http.MethodGet, "api/library-elements?"+url.Values{
		"kind":    []string{"1"},
		"perPage": []string{strconv.Itoa(PageSize)},
		"page":    []string{strconv.Itoa(page)},
	}.Encode(), nil, &out)
	return out.Result.Elements, err
}

func (cl APIClient) CreateLibraryElement(ctx context.Context, element Object) (Object, error) {
	var out libraryElementResponse
	if err := cl.Request(ctx, http.MethodPost, "api/library-elements", element, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (cl APIClient) UpdateLibraryElement(ctx context.Context, uid string, element Object) (Object, error) {
	var out libraryElementResponse
	if err := cl.Request(ctx, http.MethodPatch, "api/library-elements/"+url.PathEscape(uid), element, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}
