package grafana

import "strings"

// GeneralFolderTitle is the title Grafana shows for dashboards outside any folder.
const GeneralFolderTitle = "General"

// Object is an untyped Grafana JSON document. Fields the tool does not read
// are carried through unchanged.
type Object map[string]interface{}

// String returns the string value at key, or "".
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Int returns the numeric value at key, or 0.
func (o Object) Int(key string) int64 {
	switch v := o[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Bool returns the boolean value at key, or false.
func (o Object) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Map returns the nested object at key, or nil.
func (o Object) Map(key string) Object {
	switch v := o[key].(type) {
	case map[string]interface{}:
		return v
	case Object:
		return v
	}
	return nil
}

// Clone returns a deep copy of o.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(o)).(map[string]interface{})
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Object:
		return cloneValue(map[string]interface{}(t))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}

type ListedDashboard struct {
	ID          int64  `json:"id"`
	UID         string `json:"uid"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Type        string `json:"type"`
	FolderUID   string `json:"folderUid"`
	FolderTitle string `json:"folderTitle"`
}

type DashboardMeta struct {
	Slug        string `json:"slug,omitempty"`
	URL         string `json:"url,omitempty"`
	FolderID    int64  `json:"folderId,omitempty"`
	FolderUID   string `json:"folderUid,omitempty"`
	FolderTitle string `json:"folderTitle,omitempty"`
	Provisioned bool   `json:"provisioned"`
	Version     int64  `json:"version,omitempty"`
	Created     string `json:"created,omitempty"`
	Updated     string `json:"updated,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
	UpdatedBy   string `json:"updatedBy,omitempty"`
}

// DashboardDefinition is the body of GET /api/dashboards/uid/:uid.
type DashboardDefinition struct {
	Dashboard Object        `json:"dashboard"`
	Meta      DashboardMeta `json:"meta"`
}

func (d DashboardDefinition) UID() string {
	return d.Dashboard.String("uid")
}

func (d DashboardDefinition) Title() string {
	return d.Dashboard.String("title")
}

// FolderTitle returns the folder title, GeneralFolderTitle for root dashboards.
func (d DashboardDefinition) FolderTitle() string {
	if d.Meta.FolderTitle == "" {
		return GeneralFolderTitle
	}
	return d.Meta.FolderTitle
}

// IsGeneralFolder reports whether title designates the default folder.
func IsGeneralFolder(title string) bool {
	return title == "" || strings.EqualFold(title, GeneralFolderTitle)
}

type CreateDashboardRequest struct {
	Dashboard Object `json:"dashboard"`
	FolderUID string `json:"folderUid,omitempty"`
	Overwrite bool   `json:"overwrite"`
	Message   string `json:"message,omitempty"`
}

type CreateDashboardResponse struct {
	ID      int64  `json:"id"`
	UID     string `json:"uid"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type Folder struct {
	ID        int64  `json:"id,omitempty"`
	UID       string `json:"uid"`
	Title     string `json:"title"`
	Version   int64  `json:"version,omitempty"`
	ParentUID string `json:"parentUid,omitempty"`
}

// PermissionItems reduces a GET /api/folders/:uid/permissions body to the
// items accepted by the update endpoint.
func PermissionItems(perms []Object) []Object {
	items := make([]Object, 0, len(perms))
	for _, p := range perms {
		item := Object{"permission": p.Int("permission")}
		switch {
		case p.Int("userId") > 0:
			item["userId"] = p.Int("userId")
		case p.Int("teamId") > 0:
			item["teamId"] = p.Int("teamId")
		case p.String("role") != "":
			item["role"] = p.String("role")
		default:
			continue
		}
		items = append(items, item)
	}
	return items
}

type ListedSnapshot struct {
	ID       int64  `json:"id"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	External bool   `json:"external"`
	Expires  string `json:"expires,omitempty"`
}

type libraryElementsPage struct {
	Result struct {
		TotalCount int64    `json:"totalCount"`
		Elements   []Object `json:"elements"`
		Page       int      `json:"page"`
		PerPage    int      `json:"perPage"`
	} `json:"result"`
}

type libraryElementResponse struct {
	Result Object `json:"result"`
}

type datasourceResponse struct {
	ID         int64  `json:"id"`
	Message    string `json:"message"`
	Datasource Object `json:"datasource"`
}
