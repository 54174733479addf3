package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/abadojack/whatlanggo"
	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/jobtrack/internal/tracker"
)

// Keys the ingester adds to a candidate's additional info.
const (
	InfoDescription = "description"
	InfoLanguage    = "language"
	InfoSourceFile  = "ingestedFrom"
	InfoBatch       = "ingestBatch"
)

// SupportedExts lists the candidate file extensions the inbox scan picks up.
var SupportedExts = []string{".json", ".yaml", ".yml"}

// record is the on-disk shape of one candidate.
type record struct {
	Company        string         `json:"company" yaml:"company"`
	JobTitle       string         `json:"jobTitle" yaml:"jobTitle"`
	Location       string         `json:"location" yaml:"location"`
	JobURL         string         `json:"jobUrl" yaml:"jobUrl"`
	SalaryRange    string         `json:"salaryRange" yaml:"salaryRange"`
	JobBoard       string         `json:"jobBoard" yaml:"jobBoard"`
	Description    string         `json:"description" yaml:"description"`
	AdditionalInfo map[string]any `json:"additionalInfo" yaml:"additionalInfo"`
}

func (r record) valid() bool {
	return strings.TrimSpace(r.Company) != "" && strings.TrimSpace(r.JobTitle) != ""
}

func (r record) candidate() tracker.Candidate {
	info := make(map[string]any, len(r.AdditionalInfo)+2)
	for k, v := range r.AdditionalInfo {
		info[k] = v
	}
	if desc := strings.TrimSpace(r.Description); desc != "" {
		info[InfoDescription] = desc
		if lang := detectLanguage(desc); lang != "" {
			info[InfoLanguage] = lang
		}
	}
	return tracker.Candidate{
		Company:        strings.TrimSpace(r.Company),
		JobTitle:       strings.TrimSpace(r.JobTitle),
		Location:       strings.TrimSpace(r.Location),
		JobURL:         strings.TrimSpace(r.JobURL),
		SalaryRange:    strings.TrimSpace(r.SalaryRange),
		JobBoard:       strings.TrimSpace(r.JobBoard),
		AdditionalInfo: info,
	}
}

// detectLanguage returns the ISO 639-1 code of text, or "" when unknown.
func detectLanguage(text string) string {
	return whatlanggo.DetectLang(text).Iso6391()
}

// ParseFile reads candidates from a JSON or YAML file holding either a
// list of candidates or a single one. Entries without company or job title
// are dropped and counted in invalid.
func ParseFile(path string) (candidates []tracker.Candidate, invalid int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}

	var records []record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		records, err = decodeJSON(data)
	case ".yaml", ".yml":
		records, err = decodeYAML(data)
	default:
		return nil, 0, fmt.Errorf("unsupported candidate file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", path, err)
	}

	candidates = make([]tracker.Candidate, 0, len(records))
	for _, r := range records {
		if !r.valid() {
			invalid++
			continue
		}
		candidates = append(candidates, r.candidate())
	}
	return candidates, invalid, nil
}

func decodeJSON(data []byte) ([]record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var records []record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var r record
	if err := json.Unmarshal(trimmed, &r); err != nil {
		return nil, err
	}
	return []record{r}, nil
}

func decodeYAML(data []byte) ([]record, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var records []record
		if err := root.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	case yaml.MappingNode:
		var r record
		if err := root.Decode(&r); err != nil {
			return nil, err
		}
		return []record{r}, nil
	default:
		return nil, fmt.Errorf("expected a list or a mapping at line %d", root.Line)
	}
}
