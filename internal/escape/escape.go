// Package escape makes index paths safe to embed in URLs.
package escape

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nomdn/dress-api/internal/models"
)

// Document kinds accepted by EscapeDocument.
const (
	KindMaster = "master"
	KindAuthor = "author"
)

var (
	// ErrMalformedInput is returned when a document is not a JSON object.
	ErrMalformedInput = errors.New("malformed index document")
	// ErrUnknownKind is returned for a kind other than KindMaster or KindAuthor.
	ErrUnknownKind = errors.New("unknown index document kind")
)

// Path replaces every '#' with "%23". Already escaped paths are unchanged.
func Path(p string) string {
	return strings.ReplaceAll(p, "#", "%23")
}

// EscapeMaster returns a copy of m with every path escaped. m is not modified.
func EscapeMaster(m models.MasterIndex) models.MasterIndex {
	out := make(models.MasterIndex, len(m))
	for k, e := range m {
		out[k] = models.MasterEntry{
			Path:           Path(e.Path),
			Contributors:   append([]models.Contributor(nil), e.Contributors...),
			LatestModified: e.LatestModified,
		}
	}
	return out
}

// EscapeAuthor returns a copy of a with every path escaped. a is not modified.
func EscapeAuthor(a models.AuthorIndex) models.AuthorIndex {
	out := make(models.AuthorIndex, len(a))
	for name, items := range a {
		escaped := make([]models.AuthorItem, len(items))
		for i, it := range items {
			escaped[i] = models.AuthorItem{Path: Path(it.Path), LatestModified: it.LatestModified}
		}
		out[name] = escaped
	}
	return out
}

// EscapeDocument escapes a decoded JSON index document of the given kind and
// returns a fresh copy.
//
// Master values are [path, contributors, time?] arrays. Author values are lists
// of {"path", "latest_commit_time"|"time"} objects or bare path strings. Values
// of any other shape are copied untouched. time.Time values become RFC 3339 strings.
func EscapeDocument(kind string, doc any) (map[string]any, error) {
	var escapeValue func(any) any
	switch kind {
	case KindMaster:
		escapeValue = escapeMasterValue
	case KindAuthor:
		escapeValue = escapeAuthorValue
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s document must be an object, got %T", ErrMalformedInput, kind, doc)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = escapeValue(v)
	}
	return out, nil
}

func escapeMasterValue(v any) any {
	arr, ok := v.([]any)
	if !ok {
		return normalize(v)
	}
	out := make([]any, len(arr))
	for i, el := range arr {
		if s, ok := el.(string); ok && i == 0 {
			out[i] = Path(s)
			continue
		}
		out[i] = normalize(el)
	}
	return out
}

func escapeAuthorValue(v any) any {
	items, ok := v.([]any)
	if !ok {
		return normalize(v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case string:
			out[i] = Path(it)
		case map[string]any:
			obj := make(map[string]any, len(it))
			for k, val := range it {
				if s, ok := val.(string); ok && k == "path" {
					obj[k] = Path(s)
					continue
				}
				obj[k] = normalize(val)
			}
			out[i] = obj
		default:
			out[i] = normalize(item)
		}
	}
	return out
}

// normalize converts timestamps to text and copies containers so the result
// shares no mutable state with the input.
func normalize(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.Format(time.RFC3339)
	case []any:
		out := make([]any, len(x))
		for i, el := range x {
			out[i] = normalize(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = normalize(el)
		}
		return out
	default:
		return v
	}
}
