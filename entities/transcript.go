package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is stored as a single JSON column; the pipeline only ever sees typed segments.
type Transcript []TranscriptSegment

func (t Transcript) Value() (driver.Value, error) {
	if len(t) == 0 {
		return nil, nil
	}
	b, err := json.Marshal([]TranscriptSegment(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Transcript) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("transcript: unsupported scan type %T", src)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	var segments []TranscriptSegment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	*t = segments
	return nil
}

// Sorted returns a copy ordered by start time; equal starts keep their relative order.
func (t Transcript) Sorted() Transcript {
	out := make(Transcript, len(t))
	copy(out, t)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

// Speakers returns the distinct speaker tags in order of first appearance.
func (t Transcript) Speakers() []string {
	seen := make(map[string]bool)
	speakers := make([]string, 0)
	for _, s := range t {
		if s.Speaker == "" || seen[s.Speaker] {
			continue
		}
		seen[s.Speaker] = true
		speakers = append(speakers, s.Speaker)
	}
	return speakers
}
