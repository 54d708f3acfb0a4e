package output

import (
	"sort"
)

// Kind is the kind of Grafana object an entry refers to.
type Kind string

const (
	KindDatasource       Kind = "datasources"
	KindFolder           Kind = "folders"
	KindFolderPermission Kind = "folder_permissions"
	KindLibraryPanel     Kind = "library_panels"
	KindDashboard        Kind = "dashboards"
	KindSnapshot         Kind = "snapshots"
	KindAnnotation       Kind = "annotations"
)

// Kinds lists every kind in reporting order.
var Kinds = []Kind{
	KindDatasource,
	KindFolder,
	KindFolderPermission,
	KindLibraryPanel,
	KindDashboard,
	KindSnapshot,
	KindAnnotation,
}

type Outcome string

const (
	OutcomeCreated     Outcome = "created"
	OutcomeOverwritten Outcome = "overwritten"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

var Outcomes = []Outcome{OutcomeCreated, OutcomeOverwritten, OutcomeSkipped, OutcomeFailed}

type Entry struct {
	Kind    Kind    `json:"kind" yaml:"kind"`
	Outcome Outcome `json:"outcome" yaml:"outcome"`
	Folder  string  `json:"folder,omitempty" yaml:"folder,omitempty"`
	Name    string  `json:"name" yaml:"name"`
	Error   string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary collects the outcome of every object handled by a run.
type Summary struct {
	Operation          string   `json:"operation" yaml:"operation"`
	DryRun             bool     `json:"dryRun" yaml:"dryRun"`
	Archive            string   `json:"archive,omitempty" yaml:"archive,omitempty"`
	Entries            []Entry  `json:"entries" yaml:"entries"`
	FoldersCreated     []string `json:"foldersCreated,omitempty" yaml:"foldersCreated,omitempty"`
	MissingDatasources []string `json:"missingDatasources,omitempty" yaml:"missingDatasources,omitempty"`
}

func NewSummary(operation string, dryRun bool) *Summary {
	return &Summary{Operation: operation, DryRun: dryRun, Entries: []Entry{}}
}

func (s *Summary) Add(kind Kind, outcome Outcome, folder, name string) {
	s.Entries = append(s.Entries, Entry{Kind: kind, Outcome: outcome, Folder: folder, Name: name})
}

func (s *Summary) Fail(kind Kind, folder, name string, err error) {
	s.Entries = append(s.Entries, Entry{Kind: kind, Outcome: OutcomeFailed, Folder: folder, Name: name, Error: err.Error()})
}

func (s *Summary) FolderCreated(title string) {
	s.FoldersCreated = append(s.FoldersCreated, title)
}

// AddMissingDatasources records data source uids that could not be remapped.
func (s *Summary) AddMissingDatasources(uids ...string) {
	seen := make(map[string]bool, len(s.MissingDatasources))
	for _, uid := range s.MissingDatasources {
		seen[uid] = true
	}
	for _, uid := range uids {
		if !seen[uid] {
			seen[uid] = true
			s.MissingDatasources = append(s.MissingDatasources, uid)
		}
	}
	sort.Strings(s.MissingDatasources)
}

// Count returns the number of entries with kind and outcome.
func (s *Summary) Count(kind Kind, outcome Outcome) int {
	var n int
	for _, e := range s.Entries {
		if e.Kind == kind && e.Outcome == outcome {
			n++
		}
	}
	return n
}

// Names returns the sorted names of the entries with kind and outcome.
func (s *Summary) Names(kind Kind, outcome Outcome) []string {
	var out []string
	for _, e := range s.Entries {
		if e.Kind == kind && e.Outcome == outcome {
			out = append(out, e.Name)
		}
	}
	sort.Strings(out)
	return out
}

// ByFolder groups the names of entries with kind and outcome by folder.
func (s *Summary) ByFolder(kind Kind, outcome Outcome) map[string][]string {
	out := map[string][]string{}
	for _, e := range s.Entries {
		if e.Kind == kind && e.Outcome == outcome {
			out[e.Folder] = append(out[e.Folder], e.Name)
		}
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}

// Failed reports whether any entry failed.
func (s *Summary) Failed() bool {
	for _, e := range s.Entries {
		if e.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}
