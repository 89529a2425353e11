package account

import (
	"reflect"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name     string
		in       []string
		tags     []string
		tagsview []string
	}{
		{
			name:     "dedup keeps first-seen casing",
			in:       []string{"A", "a", "B"},
			tags:     []string{"A", "B"},
			tagsview: []string{"a", "b"},
		},
		{
			name:     "case-insensitive sort",
			in:       []string{"beta", "Alpha", "gamma"},
			tags:     []string{"Alpha", "beta", "gamma"},
			tagsview: []string{"alpha", "beta", "gamma"},
		},
		{
			name:     "whitespace trimmed, empties dropped",
			in:       []string{"  x ", "", "  "},
			tags:     []string{"x"},
			tagsview: []string{"x"},
		},
		{
			name:     "nil input yields empty lists",
			in:       nil,
			tags:     []string{},
			tagsview: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags, view := NormalizeTags(tt.in)
			if !reflect.DeepEqual(tags, tt.tags) {
				t.Errorf("tags = %v, want %v", tags, tt.tags)
			}
			if !reflect.DeepEqual(view, tt.tagsview) {
				t.Errorf("tagsview = %v, want %v", view, tt.tagsview)
			}
		})
	}
}

func TestNormalizeTagsIdempotent(t *testing.T) {
	tags, view := NormalizeTags([]string{"Work", "personal", "WORK", "Archive"})
	again, viewAgain := NormalizeTags(tags)
	if !reflect.DeepEqual(tags, again) {
		t.Errorf("re-normalizing changed tags: %v -> %v", tags, again)
	}
	if !reflect.DeepEqual(view, viewAgain) {
		t.Errorf("re-normalizing changed tagsview: %v -> %v", view, viewAgain)
	}
}

func TestNormalizeFilterTagsSharedDedup(t *testing.T) {
	// A tag appearing in both lists is consumed by requiredTags first and
	// must not show up in the any-of set.
	tags, required := NormalizeFilterTags([]string{"work", "misc"}, []string{"Work", "vip"})

	if !reflect.DeepEqual(required, []string{"vip", "Work"}) {
		t.Errorf("required = %v, want [vip Work]", required)
	}
	for _, tag := range tags {
		if tag == "work" || tag == "Work" {
			t.Errorf("tag %q leaked into the any-of set: %v", tag, tags)
		}
	}
	if !reflect.DeepEqual(tags, []string{"misc"}) {
		t.Errorf("tags = %v, want [misc]", tags)
	}
}
