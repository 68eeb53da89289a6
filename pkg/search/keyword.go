package search

import (
	"strings"
	"unicode"
)

// keywordIndex is a term-frequency index over a single candidate set.
// It is rebuilt per retrieval; indexing the full corpus is deliberately
// out of scope since the stage only merges within the base results.
type keywordIndex struct {
	postings map[string]map[string]int // term -> memory id -> occurrences
	lengths  map[string]int            // memory id -> token count
}

func buildKeywordIndex(candidates []RankedMemory) *keywordIndex {
	ix := &keywordIndex{
		postings: make(map[string]map[string]int),
		lengths:  make(map[string]int),
	}
	for _, cand := range candidates {
		tokens := tokenize(cand.Text)
		ix.lengths[cand.ID] = len(tokens)
		for _, tok := range tokens {
			ids := ix.postings[tok]
			if ids == nil {
				ids = make(map[string]int)
				ix.postings[tok] = ids
			}
			ids[cand.ID]++
		}
	}
	return ix
}

// score returns length-normalized term frequencies for ids matching at
// least one query term.
func (ix *keywordIndex) score(queryTerms []string) map[string]float64 {
	scores := make(map[string]float64)
	for _, term := range queryTerms {
		for id, count := range ix.postings[term] {
			if ix.lengths[id] > 0 {
				scores[id] += float64(count) / float64(ix.lengths[id])
			}
		}
	}
	return scores
}

// tokenize lowercases and splits on any non-alphanumeric rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywordMerge tags candidates whose text matches the query terms with
// keyword provenance, de-duplicated by id. The semantic ordering and
// scores stay authoritative: a keyword hit never moves above a semantic
// entry, it only gains the extra provenance tag.
func keywordMerge(query string, candidates []RankedMemory) []RankedMemory {
	terms := tokenize(query)
	if len(terms) == 0 || len(candidates) == 0 {
		return candidates
	}

	scores := buildKeywordIndex(candidates).score(terms)

	merged := make([]RankedMemory, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true
		if scores[cand.ID] > 0 {
			cand.Provenance = append(cand.Provenance, ProvenanceKeyword)
		}
		merged = append(merged, cand)
	}
	return merged
}
