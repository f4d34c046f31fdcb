// Package catalog provides in-memory full-text search over an index snapshot.
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/nomdn/dress-api/internal/models"
)

// Catalog is a Bleve index over image paths and contributor names.
// It is built once per snapshot and never modified afterwards.
type Catalog struct {
	index bleve.Index
	size  int
}

type entry struct {
	Path     string   `json:"path"`
	PathText string   `json:"path_text"`
	Authors  []string `json:"authors"`
	Credited string   `json:"credited"`
}

func newMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase and tokenize without stemming, so names match as typed.
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("path_text", text)
	docMapping.AddFieldMappingsAt("authors", text)

	stored := bleve.NewTextFieldMapping()
	stored.Analyzer = keyword.Name
	stored.Store = true
	stored.IncludeInAll = false
	docMapping.AddFieldMappingsAt("path", stored)

	credited := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("credited", credited)

	im.AddDocumentMapping("image", docMapping)
	im.DefaultType = "image"
	im.DefaultMapping = docMapping
	return im
}

var pathSeparators = strings.NewReplacer("_", " ", "-", " ", "#", " ", ".", " ", "/", " ")

// pathText turns an escaped image path into searchable words. Directory and
// extension separators split words too, so "summer/white_dress.jpg" yields
// summer, white, dress and jpg.
func pathText(p string) string {
	p = strings.ReplaceAll(p, "%23", "#")
	return pathSeparators.Replace(p)
}

// Build indexes every master entry of snap in memory.
func Build(snap *models.Snapshot) (*Catalog, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog index: %w", err)
	}
	credited := make(map[string]string)
	if snap != nil {
		for name, items := range snap.Authors {
			for _, it := range items {
				credited[it.Path] = name
			}
		}
	}

	batch := index.NewBatch()
	n := 0
	if snap != nil {
		for _, key := range snap.Master.Keys() {
			e := snap.Master[key]
			names := make([]string, len(e.Contributors))
			for i, c := range e.Contributors {
				names[i] = c.Name
			}
			if err := batch.Index(strconv.Itoa(key), entry{
				Path:     e.Path,
				PathText: pathText(e.Path),
				Authors:  names,
				Credited: credited[e.Path],
			}); err != nil {
				_ = index.Close()
				return nil, fmt.Errorf("failed to index %s: %w", e.Path, err)
			}
			n++
		}
	}
	if err := index.Batch(batch); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	return &Catalog{index: index, size: n}, nil
}

// Len returns the number of indexed images.
func (c *Catalog) Len() int { return c.size }

// Search matches q against path words and contributor names. Author matches
// rank above path matches. Terms of four or more characters tolerate one typo.
func (c *Catalog) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResponse, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var should []blevequery.Query
	for _, term := range strings.Fields(strings.ToLower(q.Query)) {
		for field, boost := range map[string]float64{"authors": 2, "path_text": 1} {
			mq := bleve.NewMatchQuery(term)
			mq.SetField(field)
			mq.SetBoost(boost)
			if len([]rune(term)) >= 4 {
				mq.SetFuzziness(1)
			}
			should = append(should, mq)
		}
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(should...), q.Limit, 0, false)
	req.Fields = []string{"path", "authors"}

	res, err := c.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}

	out := &models.SearchResponse{
		Results: make([]*models.SearchResult, 0, len(res.Hits)),
		Total:   int(res.Total),
		Query:   q.Query,
	}
	for i, hit := range res.Hits {
		id, _ := strconv.Atoi(hit.ID)
		r := &models.SearchResult{ID: id, Score: hit.Score, Rank: i + 1}
		if p, ok := hit.Fields["path"].(string); ok {
			r.Path = p
		}
		r.Authors = stringList(hit.Fields["authors"])
		out.Results = append(out.Results, r)
	}
	out.QueryTime = time.Since(start).Milliseconds()
	return out, nil
}

// stringList reads a stored field that Bleve returns as a string for one
// value and as []interface{} for several.
func stringList(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []any:
		out := make([]string, 0, len(x))
		for _, el := range x {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Close releases the index.
func (c *Catalog) Close() error {
	return c.index.Close()
}
