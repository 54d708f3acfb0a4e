// Package grafanatest provides an in-memory fake of the Grafana HTTP API
// endpoints used by amgctl.
package grafanatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/grafana/amgctl/api/grafana"
)

// Request is a request received by the fake server.
type Request struct {
	Method string
	Path   string
	Query  string
}

func (r Request) String() string {
	return r.Method + " " + r.Path
}

// IsMutation reports whether the request changes state.
func (r Request) IsMutation() bool {
	return r.Method != http.MethodGet
}

// Server is a fake Grafana instance backed by maps.
type Server struct {
	*httptest.Server

	mu                sync.Mutex
	dashboards        map[string]grafana.DashboardDefinition
	folders           map[string]grafana.Folder
	folderPermissions map[string][]grafana.Object
	datasources       []grafana.Object
	snapshots         map[string]grafana.Object
	annotations       []grafana.Object
	libraryElements   map[string]grafana.Object
	requests          []Request
	failures          map[string]int
	nextID            int64
}

// NewServer starts a fake Grafana server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		dashboards:        map[string]grafana.DashboardDefinition{},
		folders:           map[string]grafana.Folder{},
		folderPermissions: map[string][]grafana.Object{},
		snapshots:         map[string]grafana.Object{},
		libraryElements:   map[string]grafana.Object{},
		failures:          map[string]int{},
		nextID:            100,
	}

	r := mux.NewRouter()
	r.Use(s.record)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/search", s.search).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/db", s.createDashboard).Methods(http.MethodPost)
	api.HandleFunc("/dashboards/uid/{uid}", s.getDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/uid/{uid}", s.deleteDashboard).Methods(http.MethodDelete)
	api.HandleFunc("/folders", s.listFolders).Methods(http.MethodGet)
	api.HandleFunc("/folders", s.createFolder).Methods(http.MethodPost)
	api.HandleFunc("/folders/{uid}", s.getFolder).Methods(http.MethodGet)
	api.HandleFunc("/folders/{uid}", s.updateFolder).Methods(http.MethodPut)
	api.HandleFunc("/folders/{uid}/permissions", s.getFolderPermissions).Methods(http.MethodGet)
	api.HandleFunc("/folders/{uid}/permissions", s.updateFolderPermissions).Methods(http.MethodPost)
	api.HandleFunc("/datasources", s.listDatasources).Methods(http.MethodGet)
	api.HandleFunc("/datasources", s.createDatasource).Methods(http.MethodPost)
	api.HandleFunc("/datasources/uid/{uid}", s.updateDatasource).Methods(http.MethodPut)
	api.HandleFunc("/dashboard/snapshots", s.listSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", s.createSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/{key}", s.getSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/{key}", s.deleteSnapshot).Methods(http.MethodDelete)
	api.HandleFunc("/annotations", s.listAnnotations).Methods(http.MethodGet)
	api.HandleFunc("/annotations", s.createAnnotation).Methods(http.MethodPost)
	api.HandleFunc("/annotations/{id}", s.updateAnnotation).Methods(http.MethodPut)
	api.HandleFunc("/library-elements", s.listLibraryElements).Methods(http.MethodGet)
	api.HandleFunc("/library-elements", s.createLibraryElement).Methods(http.MethodPost)
	api.HandleFunc("/library-elements/{uid}", s.updateLibraryElement).Methods(http.MethodPatch)

	s.Server = httptest.NewServer(r)
	return s
}

// Client returns an API client pointed at the fake server.
func (s *Server) Client() grafana.APIClient {
	return grafana.NewAPIClient(s.URL)
}

// FailOn makes every request matching "METHOD /path" answer with status.
func (s *Server) FailOn(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// Requests returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Mutations returns the requests that changed state.
func (s *Server) Mutations() []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.IsMutation() {
			out = append(out, r)
		}
	}
	return out
}

// CountRequests returns the number of requests matching "METHOD /path".
func (s *Server) CountRequests(method, path string) int {
	var n int
	for _, r := range s.Requests() {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery})
		status, fail := s.failures[r.Method+" "+r.URL.Path]
		s.mu.Unlock()
		if fail {
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Seeding helpers

func (s *Server) AddFolder(uid, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[uid] = grafana.Folder{ID: s.id(), UID: uid, Title: title, Version: 1}
}

func (s *Server) SetFolderPermissions(uid string, perms []grafana.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folderPermissions[uid] = perms
}

// AddDashboard stores dashboard in the folder with folderUID ("" for General).
func (s *Server) AddDashboard(dashboard grafana.Object, folderUID string, provisioned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeDashboard(dashboard, folderUID, provisioned)
}

func (s *Server) AddDatasource(ds grafana.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds = ds.Clone()
	if ds.Int("id") == 0 {
		ds["id"] = float64(s.id())
	}
	s.datasources = append(s.datasources, ds)
}

func (s *Server) AddSnapshot(key, name string, dashboard grafana.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[key] = grafana.Object{
		"id":        float64(s.id()),
		"key":       key,
		"name":      name,
		"dashboard": map[string]interface{}(dashboard.Clone()),
	}
}

func (s *Server) AddAnnotation(a grafana.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a = a.Clone()
	a["id"] = float64(s.id())
	s.annotations = append(s.annotations, a)
}

func (s *Server) AddLibraryElement(e grafana.Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e = e.Clone()
	if e.Int("version") == 0 {
		e["version"] = float64(1)
	}
	s.libraryElements[e.String("uid")] = e
}

// Inspection helpers

func (s *Server) Dashboard(uid string) (grafana.DashboardDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dashboards[uid]
	return d, ok
}

func (s *Server) Folders() []grafana.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grafana.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (s *Server) FolderPermissions(uid string) []grafana.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folderPermissions[uid]
}

func (s *Server) Datasources() []grafana.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]grafana.Object(nil), s.datasources...)
}

func (s *Server) Snapshot(key string) (grafana.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[key]
	return snap, ok
}

func (s *Server) Annotations() []grafana.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]grafana.Object(nil), s.annotations...)
}

func (s *Server) LibraryElement(uid string) (grafana.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.libraryElements[uid]
	return e, ok
}

// internals, called with s.mu held

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Server) storeDashboard(dashboard grafana.Object, folderUID string, provisioned bool) grafana.DashboardDefinition {
	dashboard = dashboard.Clone()
	uid := dashboard.String("uid")
	if uid == "" {
		uid = fmt.Sprintf("gen-%d", s.id())
		dashboard["uid"] = uid
	}
	version := int64(1)
	if prev, ok := s.dashboards[uid]; ok {
		version = prev.Dashboard.Int("version") + 1
		dashboard["id"] = prev.Dashboard["id"]
	} else {
		dashboard["id"] = float64(s.id())
	}
	dashboard["version"] = float64(version)
	meta := grafana.DashboardMeta{
		Slug:        strings.ToLower(strings.ReplaceAll(dashboard.String("title"), " ", "-")),
		FolderUID:   folderUID,
		Provisioned: provisioned,
		Version:     version,
	}
	if f, ok := s.folders[folderUID]; ok {
		meta.FolderID = f.ID
		meta.FolderTitle = f.Title
	} else {
		meta.FolderUID = ""
		meta.FolderTitle = grafana.GeneralFolderTitle
	}
	def := grafana.DashboardDefinition{Dashboard: dashboard, Meta: meta}
	s.dashboards[uid] = def
	return def
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": what + " not found"})
}

func paginate[T any](r *http.Request, items []T, limitParam string) []T {
	limit, err := strconv.Atoi(r.URL.Query().Get(limitParam))
	if err != nil || limit <= 0 {
		limit = 1000
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(items) {
		return []T{}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Handlers

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grafana.ListedDashboard, 0, len(s.dashboards))
	for uid, d := range s.dashboards {
		out = append(out, grafana.ListedDashboard{
			ID:          d.Dashboard.Int("id"),
			UID:         uid,
			Title:       d.Title(),
			URL:         "/d/" + uid + "/" + d.Meta.Slug,
			Type:        "dash-db",
			FolderUID:   d.Meta.FolderUID,
			FolderTitle: d.Meta.FolderTitle,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	writeJSON(w, http.StatusOK, paginate(r, out, "limit"))
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dashboards[mux.Vars(r)["uid"]]
	if !ok {
		notFound(w, "Dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDashboard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	if _, ok := s.dashboards[uid]; !ok {
		notFound(w, "Dashboard")
		return
	}
	delete(s.dashboards, uid)
	writeJSON(w, http.StatusOK, map[string]string{"title": uid, "message": "Dashboard deleted"})
}

func (s *Server) createDashboard(w http.ResponseWriter, r *http.Request) {
	var in grafana.CreateDashboardRequest
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid := in.Dashboard.String("uid"); uid != "" {
		if _, ok := s.dashboards[uid]; ok && !in.Overwrite {
			writeJSON(w, http.StatusPreconditionFailed, map[string]string{"status": "name-exists"})
			return
		}
	}
	if in.FolderUID != "" {
		if _, ok := s.folders[in.FolderUID]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "folder not found"})
			return
		}
	}
	d := s.storeDashboard(in.Dashboard, in.FolderUID, false)
	writeJSON(w, http.StatusOK, grafana.CreateDashboardResponse{
		ID:      d.Dashboard.Int("id"),
		UID:     d.UID(),
		Status:  "success",
		Version: d.Meta.Version,
	})
}

func (s *Server) listFolders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grafana.Folder, 0, len(s.folders))
	for _, f := range s.folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	writeJSON(w, http.StatusOK, paginate(r, out, "limit"))
}

func (s *Server) getFolder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[mux.Vars(r)["uid"]]
	if !ok {
		notFound(w, "Folder")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	var in grafana.Folder
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.folders {
		if f.UID == in.UID || strings.EqualFold(f.Title, in.Title) {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "a folder with the same name already exists"})
			return
		}
	}
	if in.UID == "" {
		in.UID = fmt.Sprintf("folder-%d", s.id())
	}
	f := grafana.Folder{ID: s.id(), UID: in.UID, Title: in.Title, Version: 1}
	s.folders[f.UID] = f
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) updateFolder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title     string `json:"title"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	f, ok := s.folders[uid]
	if !ok {
		notFound(w, "Folder")
		return
	}
	f.Title = in.Title
	f.Version++
	s.folders[uid] = f
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) getFolderPermissions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	if _, ok := s.folders[uid]; !ok {
		notFound(w, "Folder")
		return
	}
	perms := s.folderPermissions[uid]
	if perms == nil {
		perms = []grafana.Object{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (s *Server) updateFolderPermissions(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Items []grafana.Object `json:"items"`
	}
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	if _, ok := s.folders[uid]; !ok {
		notFound(w, "Folder")
		return
	}
	s.folderPermissions[uid] = in.Items
	writeJSON(w, http.StatusOK, map[string]string{"message": "Folder permissions updated"})
}

func (s *Server) listDatasources(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.datasources
	if out == nil {
		out = []grafana.Object{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createDatasource(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.datasources {
		if ds.String("name") == in.String("name") {
			writeJSON(w, http.StatusConflict, map[string]string{"message": "data source with the same name already exists"})
			return
		}
	}
	id := s.id()
	in["id"] = float64(id)
	if in.String("uid") == "" {
		in["uid"] = fmt.Sprintf("ds-%d", id)
	}
	s.datasources = append(s.datasources, in)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         id,
		"message":    "Datasource added",
		"datasource": in,
	})
}

func (s *Server) updateDatasource(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	for i, ds := range s.datasources {
		if ds.String("uid") == uid {
			in["uid"] = uid
			in["id"] = ds["id"]
			s.datasources[i] = in
			writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Datasource updated", "datasource": in})
			return
		}
	}
	notFound(w, "Data source")
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grafana.ListedSnapshot, 0, len(s.snapshots))
	for key, snap := range s.snapshots {
		out = append(out, grafana.ListedSnapshot{ID: snap.Int("id"), Key: key, Name: snap.String("name")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[mux.Vars(r)["key"]]
	if !ok {
		notFound(w, "Snapshot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dashboard": snap["dashboard"],
		"meta":      map[string]interface{}{"isSnapshot": true, "created": "2024-01-01T00:00:00Z"},
	})
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := in.String("key")
	if key == "" {
		key = fmt.Sprintf("snap-%d", s.id())
	}
	if _, ok := s.snapshots[key]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "snapshot key already exists"})
		return
	}
	s.snapshots[key] = grafana.Object{
		"id":        float64(s.id()),
		"key":       key,
		"name":      in.String("name"),
		"dashboard": in["dashboard"],
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

func (s *Server) deleteSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mux.Vars(r)["key"]
	if _, ok := s.snapshots[key]; !ok {
		notFound(w, "Snapshot")
		return
	}
	delete(s.snapshots, key)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Snapshot deleted"})
}

func (s *Server) listAnnotations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	to, _ := strconv.ParseInt(q.Get("to"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []grafana.Object{}
	for _, a := range s.annotations {
		t := a.Int("time")
		if q.Get("from") != "" && t < from {
			continue
		}
		if q.Get("to") != "" && t > to {
			continue
		}
		out = append(out, a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createAnnotation(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	in["id"] = float64(id)
	s.annotations = append(s.annotations, in)
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "message": "Annotation added"})
}

func (s *Server) updateAnnotation(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.annotations {
		if a.Int("id") == id {
			in["id"] = float64(id)
			s.annotations[i] = in
			writeJSON(w, http.StatusOK, map[string]string{"message": "Annotation updated"})
			return
		}
	}
	notFound(w, "Annotation")
}

func (s *Server) listLibraryElements(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]grafana.Object, 0, len(s.libraryElements))
	for _, e := range s.libraryElements {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].String("uid") < all[j].String("uid") })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"totalCount": len(all),
			"elements":   paginate(r, all, "perPage"),
		},
	})
}

func (s *Server) createLibraryElement(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := in.String("uid")
	if uid == "" {
		uid = fmt.Sprintf("lib-%d", s.id())
		in["uid"] = uid
	}
	if _, ok := s.libraryElements[uid]; ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "library element with that uid already exists"})
		return
	}
	in["version"] = float64(1)
	s.libraryElements[uid] = in
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": in})
}

func (s *Server) updateLibraryElement(w http.ResponseWriter, r *http.Request) {
	var in grafana.Object
	if err := readJSON(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := mux.Vars(r)["uid"]
	prev, ok := s.libraryElements[uid]
	if !ok {
		notFound(w, "Library element")
		return
	}
	if in.Int("version") != prev.Int("version") {
		writeJSON(w, http.StatusPreconditionFailed, map[string]string{"message": "the library element has been changed by someone else"})
		return
	}
	in["uid"] = uid
	in["version"] = float64(prev.Int("version") + 1)
	s.libraryElements[uid] = in
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": in})
}
