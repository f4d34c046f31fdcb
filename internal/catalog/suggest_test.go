package catalog

import (
	"reflect"
	"testing"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"CuteDress", "CuteDress", 0},
		{"dress", "drses", 1},
		{"女装", "女裝", 1},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSuggest(t *testing.T) {
	names := []string{"Alice", "Alicia", "Bob", "CuteDress", "alice2"}
	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{"case insensitive exact first", "alice", 3, []string{"Alice", "alice2", "Alicia"}},
		{"limit applies", "alice", 1, []string{"Alice"}},
		{"transposition", "CuteDerss", 5, []string{"CuteDress"}},
		{"nothing close", "Zed", 5, []string{}},
		{"empty query", "", 5, nil},
		{"zero limit", "Bob", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(names, tt.query, tt.limit)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Suggest(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}
