package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// jobFields mirrors Job's JSON keys with every value left raw so a single
// mistyped field cannot reject the whole record.
type jobFields struct {
	Company        json.RawMessage `json:"company"`
	JobTitle       json.RawMessage `json:"jobTitle"`
	Location       json.RawMessage `json:"location"`
	JobURL         json.RawMessage `json:"jobUrl"`
	SalaryRange    json.RawMessage `json:"salaryRange"`
	JobBoard       json.RawMessage `json:"jobBoard"`
	Status         json.RawMessage `json:"status"`
	LastUpdated    json.RawMessage `json:"lastUpdated"`
	AdditionalInfo json.RawMessage `json:"additionalInfo"`
	Notes          json.RawMessage `json:"notes"`
}

// UnmarshalJSON accepts any JSON object. Scalars of the wrong type are kept
// as their text, unparseable timestamps become zero, and a non-object
// additionalInfo or non-array notes is dropped.
func (j *Job) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var f jobFields
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("job record must be an object: %w", err)
	}

	*j = Job{
		Company:     scalarText(f.Company),
		JobTitle:    scalarText(f.JobTitle),
		Location:    scalarText(f.Location),
		JobURL:      scalarText(f.JobURL),
		SalaryRange: scalarText(f.SalaryRange),
		JobBoard:    scalarText(f.JobBoard),
		Status:      Status(scalarText(f.Status)),
		LastUpdated: looseTime(f.LastUpdated),
	}

	var info map[string]any
	if json.Unmarshal(f.AdditionalInfo, &info) == nil {
		j.AdditionalInfo = info
	}

	var notes []json.RawMessage
	if json.Unmarshal(f.Notes, &notes) == nil && notes != nil {
		j.Notes = make([]Note, 0, len(notes))
		for _, raw := range notes {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 || raw[0] != '{' {
				continue
			}
			var n Note
			if n.UnmarshalJSON(raw) == nil {
				j.Notes = append(j.Notes, n)
			}
		}
	}
	return nil
}

// UnmarshalJSON decodes a note with the same tolerance as Job.
func (n *Note) UnmarshalJSON(data []byte) error {
	var f struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Note      json.RawMessage `json:"note"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Note{Timestamp: looseTime(f.Timestamp), Note: scalarText(f.Note)}
	return nil
}

// scalarText returns a JSON string's value, or the literal text of any other
// value. null and absent values are empty.
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var compact bytes.Buffer
	if json.Compact(&compact, raw) == nil {
		return compact.String()
	}
	return string(raw)
}

// looseTime parses an RFC 3339 string or a number of epoch milliseconds.
// Anything else is the zero time.
func looseTime(raw json.RawMessage) time.Time {
	text := scalarText(raw)
	if text == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t
	}
	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
