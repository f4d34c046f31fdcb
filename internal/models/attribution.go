// Package models defines core data structures for contributors, indices, and builds.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Contributor is an author identity taken from commit metadata.
// Two contributors are equal only when both name and email match exactly.
type Contributor struct {
	Name  string
	Email string
}

// MarshalJSON encodes the contributor as a [name, email] pair.
func (c Contributor) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Name, c.Email})
}

// UnmarshalJSON decodes a [name, email] pair. A single-element pair leaves Email empty.
func (c *Contributor) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("contributor: %w", err)
	}
	if len(pair) == 0 || len(pair) > 2 {
		return fmt.Errorf("contributor: want [name, email], got %d elements", len(pair))
	}
	c.Name = pair[0]
	c.Email = ""
	if len(pair) == 2 {
		c.Email = pair[1]
	}
	return nil
}

// Commit is one revision touching a file, as reported by git log or the commits API.
// Date is kept in its source text form; it is parsed when authorship is derived.
type Commit struct {
	Hash   string
	Author Contributor
	Date   string
}

// Authorship is the attribution resolved for one file.
type Authorship struct {
	// Contributors are the distinct authors, newest revision first.
	Contributors []Contributor
	// FirstAuthor is the credited earliest contributor; nil when there is no history.
	FirstAuthor *Contributor
	// LatestModified is the time of the newest revision; nil when unknown.
	LatestModified *time.Time
}

// Empty reports whether no history was found.
func (a Authorship) Empty() bool {
	return len(a.Contributors) == 0
}

// Names returns contributor display names in order.
func (a Authorship) Names() []string {
	names := make([]string, len(a.Contributors))
	for i, c := range a.Contributors {
		names[i] = c.Name
	}
	return names
}
