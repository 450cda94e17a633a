package fuzzyfinder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
)

type Rank struct {
	// Source is used as the source for matching.
	Source string

	// Target is the word matched against.
	Target string

	// Distance is the Levenshtein distance between Source and Target.
	Distance int

	// Location of Target in original list
	OriginalIndex int
}

// RankFind matches query case-insensitively against keys, best match first.
func RankFind(keys []string, query string) []Rank {
	ranksLib := fuzzy.RankFindFold(query, keys)
	sort.Stable(ranksLib)
	ranks := make([]Rank, ranksLib.Len())
	for i, r := range ranksLib {
		ranks[i] = Rank{
			Source:        r.Source,
			Target:        r.Target,
			Distance:      r.Distance,
			OriginalIndex: r.OriginalIndex,
		}
	}
	return ranks
}

// SearchText is what a record is matched on: the named field when given,
// otherwise every string field joined in key order.
func SearchText(rec mrecord.Record, field string) string {
	if field != "" {
		v, ok := rec.Get(field)
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	}
	keys := make([]string, 0, len(rec.Fields))
	for k, v := range rec.Fields {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, rec.Fields[k].(string))
	}
	return strings.Join(parts, " ")
}

// FilterRecords keeps the records whose search text fuzzy-matches query.
// Collection order is kept. An empty query keeps everything.
func FilterRecords(c mrecord.Collection, field, query string) mrecord.Collection {
	if strings.TrimSpace(query) == "" {
		return c.Clone()
	}
	keys := make([]string, len(c))
	for i, rec := range c {
		keys[i] = SearchText(rec, field)
	}
	hit := make(map[int]struct{})
	for _, r := range RankFind(keys, query) {
		hit[r.OriginalIndex] = struct{}{}
	}
	out := make(mrecord.Collection, 0, len(hit))
	for i, rec := range c {
		if _, ok := hit[i]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out
}
