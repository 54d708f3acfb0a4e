// Package remap rewrites references inside untyped Grafana JSON documents.
package remap

import (
	"sort"
	"strings"
)

// Walk visits every object nested in doc, depth first, and calls fn on each
// object for which match returns true. Objects are visited before their
// children, so fn may replace values that are then walked.
func Walk(doc interface{}, match func(map[string]interface{}) bool, fn func(map[string]interface{})) {
	switch v := doc.(type) {
	case map[string]interface{}:
		if match(v) {
			fn(v)
		}
		for _, child := range v {
			Walk(child, match, fn)
		}
	case []interface{}:
		for _, child := range v {
			Walk(child, match, fn)
		}
	case []map[string]interface{}:
		for _, child := range v {
			Walk(child, match, fn)
		}
	}
}

// builtinDatasourceUIDs are references that exist on every Grafana instance.
var builtinDatasourceUIDs = map[string]bool{
	"-- Grafana --":   true,
	"grafana":         true,
	"-- Mixed --":     true,
	"-- Dashboard --": true,
}

// IsBuiltinDatasource reports whether uid refers to a built-in data source or
// a template variable, neither of which needs a mapping.
func IsBuiltinDatasource(uid string) bool {
	return builtinDatasourceUIDs[uid] || strings.HasPrefix(uid, "$")
}

func hasDatasourceUID(m map[string]interface{}) bool {
	ds, ok := m["datasource"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = ds["uid"].(string)
	return ok
}

// Datasources replaces every {"datasource": {"uid": X}} in doc with the uid
// mapped from X. It returns the sorted set of uids without a mapping.
func Datasources(doc map[string]interface{}, uids map[string]string) []string {
	missing := map[string]struct{}{}
	Walk(doc, hasDatasourceUID, func(m map[string]interface{}) {
		ds := m["datasource"].(map[string]interface{})
		uid := ds["uid"].(string)
		if dst, ok := uids[uid]; ok {
			ds["uid"] = dst
			return
		}
		if uid != "" && !IsBuiltinDatasource(uid) {
			missing[uid] = struct{}{}
		}
	})
	out := make([]string, 0, len(missing))
	for uid := range missing {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// DatasourceKey identifies a data source across Grafana instances.
type DatasourceKey struct {
	Name string
	Type string
}

// DatasourceRef is the subset of a data source needed to build a mapping.
type DatasourceRef struct {
	UID  string
	Name string
	Type string
}

// DatasourceUIDs maps source uids to destination uids, matching data sources
// by name and type.
func DatasourceUIDs(src, dst []DatasourceRef) map[string]string {
	byKey := make(map[DatasourceKey]string, len(dst))
	for _, d := range dst {
		byKey[DatasourceKey{Name: d.Name, Type: d.Type}] = d.UID
	}
	out := make(map[string]string, len(src))
	for _, s := range src {
		if uid, ok := byKey[DatasourceKey{Name: s.Name, Type: s.Type}]; ok {
			out[s.UID] = uid
		}
	}
	return out
}
