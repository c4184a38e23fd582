package models

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Tag is a case-normalized label. Two tags with equal names are the same tag.
type Tag struct {
	Name string `json:"name"`
}

// NewTag returns a Tag with a normalized name.
func NewTag(name string) Tag {
	return Tag{Name: NormalizeTagName(name)}
}

// NormalizeTagName trims, lower-cases and NFC-normalizes a tag name.
func NormalizeTagName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return norm.NFC.String(cases.Lower(language.Und).String(name))
}

// TagSet is an ordered set of tags keyed by name. The zero value is an empty
// set. Mutating methods keep it sorted and free of duplicates.
type TagSet []Tag

// NewTagSet builds a set from names, dropping blanks and duplicates.
func NewTagSet(names ...string) TagSet {
	var s TagSet
	for _, n := range names {
		s = s.Add(n)
	}
	return s
}

// Add returns the set with name included.
func (s TagSet) Add(name string) TagSet {
	name = NormalizeTagName(name)
	if name == "" {
		return s
	}
	i := sort.Search(len(s), func(i int) bool { return s[i].Name >= name })
	if i < len(s) && s[i].Name == name {
		return s
	}
	s = append(s, Tag{})
	copy(s[i+1:], s[i:])
	s[i] = Tag{Name: name}
	return s
}

// Remove returns the set without name.
func (s TagSet) Remove(name string) TagSet {
	name = NormalizeTagName(name)
	out := s[:0]
	for _, t := range s {
		if t.Name != name {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Has reports whether the set contains name.
func (s TagSet) Has(name string) bool {
	name = NormalizeTagName(name)
	i := sort.Search(len(s), func(i int) bool { return s[i].Name >= name })
	return i < len(s) && s[i].Name == name
}

// Names returns the tag names in order.
func (s TagSet) Names() []string {
	out := make([]string, len(s))
	for i, t := range s {
		out[i] = t.Name
	}
	return out
}

// Canonical re-normalizes a set that may have been assembled by hand
// (unsorted, duplicated or un-normalized names).
func (s TagSet) Canonical() TagSet {
	return NewTagSet(s.Names()...)
}

// Diff returns the names to add and to remove to turn s into target.
func (s TagSet) Diff(target TagSet) (add, remove []string) {
	for _, t := range target {
		if !s.Has(t.Name) {
			add = append(add, t.Name)
		}
	}
	for _, t := range s {
		if !target.Has(t.Name) {
			remove = append(remove, t.Name)
		}
	}
	return add, remove
}

// MarshalJSON encodes the set as a list of names.
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON accepts either a list of names or a list of {"name": ...} objects.
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*s = NewTagSet(names...)
		return nil
	}
	var tags []Tag
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	out := TagSet(nil)
	for _, t := range tags {
		out = out.Add(t.Name)
	}
	*s = out
	return nil
}
