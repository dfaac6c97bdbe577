package fib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"

	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

const analyzerName = "fib"

// matcher tokenizes query text and tests documents against the tokens.
// A value matches when it contains every token, case-insensitively.
type matcher struct {
	analyzer analysis.Analyzer
}

func newMatcher() (*matcher, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register query analyzer: %w", err)
	}
	analyzer := im.AnalyzerNamed(analyzerName)
	if analyzer == nil {
		return nil, errors.New("query analyzer unavailable")
	}
	return &matcher{analyzer: analyzer}, nil
}

// terms returns the distinct lowercase tokens of text in order of appearance.
func (m *matcher) terms(text string) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, tok := range m.analyzer.Analyze([]byte(text)) {
		term := string(tok.Term)
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// match returns the matching values of doc, or nil when nothing matches.
func (m *matcher) match(path string, terms []string, doc string) (*Result, error) {
	if len(terms) == 0 || doc == "" {
		return nil, nil
	}
	root, err := metadata.Parse(doc)
	if err != nil {
		return nil, err
	}

	var matches []Match
	var walk func(el *metadata.Element, key string, loc []string)
	walk = func(el *metadata.Element, key string, loc []string) {
		if el.Leaf {
			if containsAll(el.Value, terms) {
				matches = append(matches, Match{Location: strings.Join(loc, "/"), Key: key, Value: el.Value})
			}
			return
		}
		for i, child := range el.Children {
			childKey, segment := child.Key, child.Key
			if childKey == "" {
				// Array items are addressed by name when they have one.
				childKey = key
				segment = child.Name()
				if segment == "" {
					segment = fmt.Sprintf("[%d]", i)
				}
			}
			if child.Leaf && child.Key != "" {
				walk(child, childKey, loc)
				continue
			}
			walk(child, childKey, append(loc[:len(loc):len(loc)], segment))
		}
	}
	walk(root, "", nil)

	if len(matches) == 0 {
		return nil, nil
	}
	return &Result{AssetPath: path, Matches: matches}, nil
}

func containsAll(value string, terms []string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, t := range terms {
		if !strings.Contains(lower, t) {
			return false
		}
	}
	return true
}
