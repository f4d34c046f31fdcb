package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// MasterEntry is one row of the id-keyed index.
type MasterEntry struct {
	Path           string
	Contributors   []Contributor
	LatestModified *time.Time
}

// MasterIndex maps dense 1-based ids to entries.
type MasterIndex map[int]MasterEntry

// AuthorItem is one file credited to an author.
type AuthorItem struct {
	Path           string
	LatestModified *time.Time
}

// AuthorIndex groups files by the credited first author's name.
type AuthorIndex map[string][]AuthorItem

// FormatTime renders t as ISO-8601 (RFC 3339), or returns nil for a nil time.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarshalJSON encodes the entry as [path, [[name, email], ...], time|null].
func (e MasterEntry) MarshalJSON() ([]byte, error) {
	contributors := e.Contributors
	if contributors == nil {
		contributors = []Contributor{}
	}
	return json.Marshal([]interface{}{e.Path, contributors, FormatTime(e.LatestModified)})
}

// UnmarshalJSON accepts both the two-element legacy form and the three-element form.
func (e *MasterEntry) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("master entry: %w", err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("master entry: want 2 or 3 elements, got %d", len(parts))
	}
	var out MasterEntry
	if err := json.Unmarshal(parts[0], &out.Path); err != nil {
		return fmt.Errorf("master entry path: %w", err)
	}
	if err := json.Unmarshal(parts[1], &out.Contributors); err != nil {
		return fmt.Errorf("master entry contributors: %w", err)
	}
	if len(parts) == 3 {
		var ts *string
		if err := json.Unmarshal(parts[2], &ts); err != nil {
			return fmt.Errorf("master entry time: %w", err)
		}
		t, err := parseTime(ts)
		if err != nil {
			return fmt.Errorf("master entry time: %w", err)
		}
		out.LatestModified = t
	}
	*e = out
	return nil
}

// Keys returns the ids in ascending order.
func (m MasterIndex) Keys() []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MarshalJSON writes ids in numeric order so the document reads 1, 2, 3, ...
func (m MasterIndex) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.Itoa(k)))
		buf.WriteByte(':')
		v, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object keyed by stringified integers.
func (m *MasterIndex) UnmarshalJSON(data []byte) error {
	var raw map[string]MasterEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(MasterIndex, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("master index key %q: %w", k, err)
		}
		out[id] = v
	}
	*m = out
	return nil
}

type authorItemJSON struct {
	Path             string  `json:"path"`
	LatestCommitTime *string `json:"latest_commit_time"`
}

// MarshalJSON encodes the item as {"path": ..., "latest_commit_time": ...}.
func (a AuthorItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(authorItemJSON{Path: a.Path, LatestCommitTime: FormatTime(a.LatestModified)})
}

// UnmarshalJSON accepts an object (with "latest_commit_time" or the older "time" key)
// or a bare path string.
func (a *AuthorItem) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*a = AuthorItem{Path: bare}
		return nil
	}
	var obj struct {
		Path             string  `json:"path"`
		LatestCommitTime *string `json:"latest_commit_time"`
		Time             *string `json:"time"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("author item: %w", err)
	}
	ts := obj.LatestCommitTime
	if ts == nil {
		ts = obj.Time
	}
	t, err := parseTime(ts)
	if err != nil {
		return fmt.Errorf("author item time: %w", err)
	}
	*a = AuthorItem{Path: obj.Path, LatestModified: t}
	return nil
}

// Names returns author names sorted ascending.
func (a AuthorIndex) Names() []string {
	names := make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PathCount returns the number of files across all authors.
func (a AuthorIndex) PathCount() int {
	n := 0
	for _, items := range a {
		n += len(items)
	}
	return n
}

// Snapshot is one consistent pair of indices produced by a single build.
type Snapshot struct {
	BuildID string
	BuiltAt time.Time
	Master  MasterIndex
	Authors AuthorIndex
}

// Len returns the number of indexed files.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Master)
}
