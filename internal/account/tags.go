package account

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Tag sorting is locale-collated but language-neutral. Collators carry
// internal buffers, so one is built per call instead of shared.
func tagCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase)
}

// NormalizeTags canonicalizes a free-text tag list: whitespace is
// trimmed, duplicates are dropped case-insensitively keeping the
// first-seen casing, the survivors are sorted case-insensitively by
// collation, and the lowercase index is derived from the sorted list.
//
// The function is idempotent: normalizing its own output is a no-op.
func NormalizeTags(raw []string) (tags, tagsview []string) {
	tags = dedupTags(raw, map[string]struct{}{})
	tagCollator().SortStrings(tags)
	tagsview = make([]string, len(tags))
	for i, t := range tags {
		tagsview[i] = strings.ToLower(t)
	}
	return tags, tagsview
}

// NormalizeFilterTags canonicalizes the two tag filters of a list query
// against one shared seen-set, so a tag cannot appear in both the any-of
// and the all-of sets. Required tags are consumed first: a tag present in
// both raw inputs is attributed to the required set.
func NormalizeFilterTags(rawTags, rawRequired []string) (tags, required []string) {
	seen := map[string]struct{}{}
	required = dedupTags(rawRequired, seen)
	tags = dedupTags(rawTags, seen)
	coll := tagCollator()
	coll.SortStrings(required)
	coll.SortStrings(tags)
	return tags, required
}

// dedupTags trims and deduplicates case-insensitively against seen,
// which is mutated so callers can chain passes over one set.
func dedupTags(raw []string, seen map[string]struct{}) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
