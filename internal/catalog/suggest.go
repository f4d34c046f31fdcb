package catalog

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Suggest returns up to limit names within a small edit distance of name,
// closest first. Comparison ignores case. Ties keep the order of names.
func Suggest(names []string, name string, limit int) []string {
	if limit <= 0 || name == "" {
		return nil
	}
	target := strings.ToLower(name)
	maxDist := 1 + utf8.RuneCountInString(target)/4
	if maxDist > 3 {
		maxDist = 3
	}

	type candidate struct {
		name string
		dist int
	}
	var found []candidate
	for _, n := range names {
		d := editDistance(strings.ToLower(n), target)
		if d <= maxDist {
			found = append(found, candidate{n, d})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	if len(found) > limit {
		found = found[:limit]
	}
	out := make([]string, len(found))
	for i, c := range found {
		out[i] = c.name
	}
	return out
}

// editDistance is the Damerau-Levenshtein distance over runes: insertions,
// deletions, substitutions and adjacent transpositions each cost one.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	d := make([][]int, len(ra)+1)
	for i := range d {
		d[i] = make([]int, len(rb)+1)
		d[i][0] = i
	}
	for j := range d[0] {
		d[0][j] = j
	}
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = min(d[i][j], d[i-2][j-2]+cost)
			}
		}
	}
	return d[len(ra)][len(rb)]
}
