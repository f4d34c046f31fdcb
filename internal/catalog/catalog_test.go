package catalog

import (
	"context"
	"testing"

	"github.com/nomdn/dress-api/internal/models"
)

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Master: models.MasterIndex{
			1: {Path: "summer/white_dress.jpg", Contributors: []models.Contributor{{Name: "Alice", Email: "a@example.com"}}},
			2: {Path: "winter/coat%231.png", Contributors: []models.Contributor{{Name: "Bob", Email: "b@example.com"}, {Name: "Alice", Email: "a@example.com"}}},
			3: {Path: "misc/alice-in-red.gif", Contributors: []models.Contributor{{Name: "Carol", Email: "c@example.com"}}},
		},
		Authors: models.AuthorIndex{
			"Alice": {{Path: "summer/white_dress.jpg"}, {Path: "winter/coat%231.png"}},
			"Carol": {{Path: "misc/alice-in-red.gif"}},
		},
	}
}

func TestCatalog_SearchByAuthor(t *testing.T) {
	c, err := Build(testSnapshot())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer c.Close()
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}

	res, err := c.Search(context.Background(), models.SearchQuery{Query: "bob"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].ID != 2 {
		t.Fatalf("results = %+v", res.Results)
	}
	if res.Results[0].Path != "winter/coat%231.png" {
		t.Errorf("path = %q", res.Results[0].Path)
	}
	if len(res.Results[0].Authors) != 2 {
		t.Errorf("authors = %v", res.Results[0].Authors)
	}
}

func TestCatalog_AuthorMatchOutranksPath(t *testing.T) {
	c, err := Build(testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	res, err := c.Search(context.Background(), models.SearchQuery{Query: "alice", Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 3 {
		t.Fatalf("total = %d, want 3", res.Total)
	}
	if res.Results[2].ID != 3 {
		t.Errorf("path-only match should rank last, got %+v", res.Results)
	}
	for i, r := range res.Results {
		if r.Rank != i+1 {
			t.Errorf("rank = %d at %d", r.Rank, i)
		}
	}
}

func TestCatalog_SearchPathWords(t *testing.T) {
	c, err := Build(testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	tests := []struct {
		query  string
		wantID int
	}{
		{"dress", 1},
		{"coat", 2},
		{"summer", 1},
		{"wintr", 2},
	}
	for _, tt := range tests {
		res, err := c.Search(context.Background(), models.SearchQuery{Query: tt.query})
		if err != nil {
			t.Fatalf("Search %q: %v", tt.query, err)
		}
		if len(res.Results) == 0 || res.Results[0].ID != tt.wantID {
			t.Errorf("Search %q = %+v, want first id %d", tt.query, res.Results, tt.wantID)
		}
	}
}

func TestPathText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"summer/white_dress.jpg", "summer white dress jpg"},
		{"winter/coat%231.png", "winter coat 1 png"},
		{"misc/alice-in-red.gif", "misc alice in red gif"},
		{"a.b.c.webp", "a b c webp"},
	}
	for _, tt := range tests {
		if got := pathText(tt.in); got != tt.want {
			t.Errorf("pathText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalog_EmptyQueryRejected(t *testing.T) {
	c, err := Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Search(context.Background(), models.SearchQuery{Query: "  "}); err == nil {
		t.Error("expected error for blank query")
	}
	res, err := c.Search(context.Background(), models.SearchQuery{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 0 {
		t.Errorf("empty catalog returned %d hits", res.Total)
	}
}
