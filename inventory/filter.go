package inventory

import "strings"

// Filter selects titles by case-insensitive exact match. An empty Include
// list allows everything not excluded.
type Filter struct {
	Include []string
	Exclude []string
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), s) {
			return true
		}
	}
	return false
}

func (f Filter) Allows(title string) bool {
	if len(f.Include) > 0 && !containsFold(f.Include, title) {
		return false
	}
	return !containsFold(f.Exclude, title)
}
