package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/grafana/amgctl/logger"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type Outputter interface {
	Output(*Summary) error
}

// New returns the Outputter for format. Text goes to log, the others to w.
func New(format Format, log *logger.LeveledLogger, w io.Writer) (Outputter, error) {
	switch format {
	case FormatText, "":
		return NewLoggerReadableOutput(log), nil
	case FormatJSON:
		return NewJSONOutputter(w), nil
	case FormatYAML:
		return NewYAMLOutputter(w), nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

type LoggerReadableOutput struct {
	log *logger.LeveledLogger
}

func NewLoggerReadableOutput(log *logger.LeveledLogger) LoggerReadableOutput {
	return LoggerReadableOutput{log: log}
}

func (o LoggerReadableOutput) Output(s *Summary) error {
	prefix := ""
	if s.DryRun {
		prefix = "[dry run] "
	}
	o.log.Log("%s%s summary", prefix, s.Operation)
	if s.Archive != "" {
		o.log.Log("%sarchive: %s", prefix, s.Archive)
	}
	for _, title := range s.FoldersCreated {
		o.log.Log("%sfolder created: %q", prefix, title)
	}
	for _, kind := range Kinds {
		for _, outcome := range Outcomes {
			if s.Count(kind, outcome) == 0 {
				continue
			}
			if kind == KindDashboard {
				byFolder := s.ByFolder(kind, outcome)
				folders := make([]string, 0, len(byFolder))
				for f := range byFolder {
					folders = append(folders, f)
				}
				sort.Strings(folders)
				for _, f := range folders {
					o.log.Log("%s%s %s in folder %q: %s", prefix, kind, outcome, f, strings.Join(byFolder[f], ", "))
				}
				continue
			}
			o.log.Log("%s%s %s: %s", prefix, kind, outcome, strings.Join(s.Names(kind, outcome), ", "))
		}
	}
	for _, e := range s.Entries {
		if e.Outcome == OutcomeFailed {
			o.log.Error("%s %q failed: %s", e.Kind, e.Name, e.Error)
		}
	}
	if len(s.MissingDatasources) > 0 {
		o.log.Warn("data sources without a match in the destination: %s", strings.Join(s.MissingDatasources, ", "))
	}
	return nil
}

type JSONOutputter struct {
	writer io.Writer
}

func NewJSONOutputter(w io.Writer) JSONOutputter {
	return JSONOutputter{writer: w}
}

func (o JSONOutputter) Output(s *Summary) error {
	enc := json.NewEncoder(o.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

type YAMLOutputter struct {
	writer io.Writer
}

func NewYAMLOutputter(w io.Writer) YAMLOutputter {
	return YAMLOutputter{writer: w}
}

func (o YAMLOutputter) Output(s *Summary) error {
	enc := yaml.NewEncoder(o.writer)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}
