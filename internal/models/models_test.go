package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkRules_EveryTypeHasOneInverse(t *testing.T) {
	for _, lt := range LinkTypes {
		inv := lt.Inverse()
		require.True(t, inv.Valid(), "inverse of %s", lt)
		assert.Equal(t, lt, inv.Inverse(), "inverse must be an involution for %s", lt)
		if lt.Symmetric() {
			assert.Equal(t, lt, inv, "symmetric type %s must be its own inverse", lt)
		} else {
			assert.NotEqual(t, lt, inv)
		}
	}
	assert.Len(t, linkRules, len(LinkTypes))
}

func TestLinkRules_Table(t *testing.T) {
	cases := map[LinkType]LinkType{
		LinkReference:   LinkReference,
		LinkExtends:     LinkExtendedBy,
		LinkRefines:     LinkRefinedBy,
		LinkContradicts: LinkContradictedBy,
		LinkQuestions:   LinkQuestionedBy,
		LinkSupports:    LinkSupportedBy,
		LinkRelated:     LinkRelated,
	}
	for lt, want := range cases {
		assert.Equal(t, want, lt.Inverse(), lt)
	}
	assert.True(t, LinkRelated.Symmetric())
	assert.True(t, LinkReference.Symmetric())
	assert.False(t, LinkExtends.Symmetric())
}

func TestParseTypes(t *testing.T) {
	_, err := ParseLinkType("inspires")
	assert.Error(t, err)
	lt, err := ParseLinkType("supports")
	require.NoError(t, err)
	assert.Equal(t, LinkSupports, lt)

	_, err = ParseNoteType("draft")
	assert.Error(t, err)
	nt, err := ParseNoteType("hub")
	require.NoError(t, err)
	assert.Equal(t, NoteHub, nt)
}

func TestTagSet_Dedup(t *testing.T) {
	s := NewTagSet("Python", "test", "python", " TEST ", "", "python")
	assert.Equal(t, []string{"python", "test"}, s.Names())
	assert.True(t, s.Has("PYTHON"))
	assert.False(t, s.Has("go"))

	s = s.Add("go").Add("Go")
	assert.Equal(t, []string{"go", "python", "test"}, s.Names())

	s = s.Remove("python")
	assert.Equal(t, []string{"go", "test"}, s.Names())
	assert.Nil(t, TagSet(nil).Remove("x"))
}

func TestTagSet_Diff(t *testing.T) {
	cur := NewTagSet("a", "b", "c")
	add, remove := cur.Diff(NewTagSet("b", "c", "d", "d"))
	assert.Equal(t, []string{"d"}, add)
	assert.Equal(t, []string{"a"}, remove)
}

func TestTagSet_Canonical(t *testing.T) {
	raw := TagSet{{Name: "Zeta"}, {Name: "alpha"}, {Name: "zeta"}}
	assert.Equal(t, []string{"alpha", "zeta"}, raw.Canonical().Names())
}

func TestTagSet_JSON(t *testing.T) {
	data, err := json.Marshal(NewTagSet("b", "a"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	var fromNames TagSet
	require.NoError(t, json.Unmarshal([]byte(`["X","x","y"]`), &fromNames))
	assert.Equal(t, []string{"x", "y"}, fromNames.Names())

	var fromObjects TagSet
	require.NoError(t, json.Unmarshal([]byte(`[{"name":"Y"},{"name":"x"}]`), &fromObjects))
	assert.Equal(t, []string{"x", "y"}, fromObjects.Names())
}

func TestNote_AddRemoveLinks(t *testing.T) {
	n := Note{ID: "a"}
	assert.True(t, n.AddLink(Link{TargetID: "b", Type: LinkExtends}))
	assert.False(t, n.AddLink(Link{TargetID: "b", Type: LinkExtends, Description: "again"}))
	assert.True(t, n.AddLink(Link{TargetID: "b", Type: LinkSupports}))
	assert.True(t, n.AddLink(Link{TargetID: "c", Type: LinkExtends}))
	require.Len(t, n.Links, 3)
	assert.Equal(t, "a", n.Links[0].SourceID)

	assert.Equal(t, 1, n.RemoveLinks("b", LinkSupports))
	assert.Equal(t, 1, n.RemoveLinks("b", ""))
	assert.Equal(t, 1, n.RemoveLinks("c", ""))
	assert.Nil(t, n.Links)
}

func TestNote_CloneIsDeep(t *testing.T) {
	n := Note{ID: "a", Tags: NewTagSet("x"), Metadata: map[string]string{"k": "v"}}
	n.AddLink(Link{TargetID: "b", Type: LinkRelated})
	c := n.Clone()
	c.Tags = c.Tags.Add("y")
	c.Metadata["k"] = "changed"
	c.Links[0].Description = "changed"

	assert.Equal(t, []string{"x"}, n.Tags.Names())
	assert.Equal(t, "v", n.Metadata["k"])
	assert.Empty(t, n.Links[0].Description)
}
