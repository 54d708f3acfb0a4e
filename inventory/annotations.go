package inventory

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/grafana/amgctl/api/grafana"
)

const (
	// AnnotationWindow is the widest range the annotation search accepts.
	AnnotationWindow = 31 * 24 * time.Hour
	// AnnotationWindows is the number of windows walked, 13 months of history.
	AnnotationWindows = 13
)

type Window struct {
	From time.Time
	To   time.Time
}

// AnnotationTimeWindows returns consecutive windows walking backward from
// now, stopping once From reaches now - AnnotationWindows*AnnotationWindow.
func AnnotationTimeWindows(now time.Time) []Window {
	oldest := now.Add(-AnnotationWindows * AnnotationWindow)
	var out []Window
	to := now
	for {
		from := to.Add(-AnnotationWindow)
		out = append(out, Window{From: from, To: to})
		if !from.After(oldest) {
			return out
		}
		to = from
	}
}

// AnnotationID returns an id for a that is the same on every Grafana
// instance holding a copy of it. Grafana's numeric ids are per instance.
func AnnotationID(a grafana.Object) string {
	d := xxhash.New()
	_, _ = d.WriteString(a.String("dashboardUID"))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(a.Int("panelId"), 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(a.Int("time"), 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.FormatInt(a.Int("timeEnd"), 10))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(a.String("text"))
	return strconv.FormatUint(d.Sum64(), 16)
}

// AnnotationBody returns the fields of a accepted by the create and update
// endpoints.
func AnnotationBody(a grafana.Object) grafana.Object {
	body := grafana.Object{
		"time":    a.Int("time"),
		"timeEnd": a.Int("timeEnd"),
		"text":    a.String("text"),
	}
	if tags, ok := a["tags"]; ok && tags != nil {
		body["tags"] = tags
	}
	if uid := a.String("dashboardUID"); uid != "" {
		body["dashboardUID"] = uid
	}
	if panelID := a.Int("panelId"); panelID != 0 {
		body["panelId"] = panelID
	}
	return body
}
