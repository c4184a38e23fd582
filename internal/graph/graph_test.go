package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/repository"
	"github.com/starford/zettel/internal/testutil"
)

func setup(t *testing.T) (*repository.Repository, *Service, *index.DB) {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	repo := repository.New(store, db, repository.WithLogger(testutil.DiscardLogger()))
	return repo, New(db), db
}

func create(t *testing.T, repo *repository.Repository, title string, nt models.NoteType, tags ...string) *models.Note {
	t.Helper()
	n, err := repo.Create(context.Background(), models.Note{
		Title:   title,
		Content: "About " + title,
		Type:    nt,
		Tags:    models.NewTagSet(tags...),
	})
	require.NoError(t, err)
	return n
}

func linkNotes(t *testing.T, repo *repository.Repository, from, to *models.Note, lt models.LinkType, desc string) {
	t.Helper()
	_, err := repo.AddLink(context.Background(), from.ID, to.ID, lt, desc, false)
	require.NoError(t, err)
}

func noteIDs(notes []models.Note) []string {
	out := make([]string, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.ID)
	}
	return out
}

func TestScenario(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()

	a := create(t, repo, "Note A", models.NotePermanent, "x", "y")
	b := create(t, repo, "Note B", models.NotePermanent)
	linkNotes(t, repo, a, b, models.LinkExtends, "background")

	back, err := svc.Backlinks(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, a.ID, back[0].PeerID)
	assert.Equal(t, models.LinkExtendedBy, back[0].Type)
	assert.Equal(t, "background", back[0].Description)
	assert.Equal(t, Incoming, back[0].Direction)
	assert.False(t, back[0].Broken)

	byTag, err := svc.Search(ctx, Filter{Tags: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, noteIDs(byTag))

	byContent, err := svc.Search(ctx, Filter{Content: "background"})
	require.NoError(t, err)
	assert.Empty(t, byContent)

	_, err = repo.Modify(ctx, b.ID, func(n *models.Note) error {
		n.Content = "Some background reading."
		return nil
	})
	require.NoError(t, err)
	byContent, err = svc.Search(ctx, Filter{Content: "BACKGROUND"})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, noteIDs(byContent))
}

func TestInverseConsistency(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	hub := create(t, repo, "Hub", models.NoteHub)

	for _, lt := range models.LinkTypes {
		if lt.Symmetric() {
			continue
		}
		src := create(t, repo, "Source "+string(lt), models.NotePermanent)
		linkNotes(t, repo, src, hub, lt, "")

		back, err := svc.Backlinks(ctx, hub.ID)
		require.NoError(t, err)
		found := false
		for _, e := range back {
			if e.PeerID == src.ID {
				found = true
				assert.Equal(t, lt.Inverse(), e.Type, "backlink type for %s", lt)
			}
		}
		assert.True(t, found, "backlink for %s missing", lt)

		fwd, err := svc.ForwardLinks(ctx, src.ID)
		require.NoError(t, err)
		require.Len(t, fwd, 1)
		assert.Equal(t, lt, fwd[0].Type)
	}
}

func TestSymmetricLinksSurfaceBothWays(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	a := create(t, repo, "A", models.NotePermanent)
	b := create(t, repo, "B", models.NotePermanent)
	linkNotes(t, repo, a, b, models.LinkRelated, "")

	for _, tc := range []struct {
		name string
		id   string
		peer string
		fn   func(context.Context, string) ([]Edge, error)
	}{
		{"forward of source", a.ID, b.ID, svc.ForwardLinks},
		{"backlinks of source", a.ID, b.ID, svc.Backlinks},
		{"forward of target", b.ID, a.ID, svc.ForwardLinks},
		{"backlinks of target", b.ID, a.ID, svc.Backlinks},
	} {
		t.Run(tc.name, func(t *testing.T) {
			edges, err := tc.fn(ctx, tc.id)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, tc.peer, edges[0].PeerID)
			assert.Equal(t, models.LinkRelated, edges[0].Type)
		})
	}

	// Stored in both directions it still surfaces once.
	linkNotes(t, repo, b, a, models.LinkRelated, "")
	edges, err := svc.LinkedNotes(ctx, a.ID, Both)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestLinkedNotesDirections(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	a := create(t, repo, "A", models.NotePermanent)
	b := create(t, repo, "B", models.NotePermanent)
	c := create(t, repo, "C", models.NotePermanent)
	linkNotes(t, repo, a, b, models.LinkSupports, "")
	linkNotes(t, repo, c, a, models.LinkQuestions, "")

	out, err := svc.LinkedNotes(ctx, a.ID, Outgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].PeerID)
	assert.Equal(t, "B", out[0].PeerTitle)

	in, err := svc.LinkedNotes(ctx, a.ID, Incoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c.ID, in[0].PeerID)
	assert.Equal(t, models.LinkQuestionedBy, in[0].Type)

	both, err := svc.LinkedNotes(ctx, a.ID, Both)
	require.NoError(t, err)
	assert.Len(t, both, 2)

	_, err = svc.LinkedNotes(ctx, a.ID, "sideways")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, Both, d)
}

func TestDeletedTargetReportsBroken(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	a := create(t, repo, "A", models.NotePermanent)
	b := create(t, repo, "B", models.NotePermanent)
	linkNotes(t, repo, a, b, models.LinkRefines, "")

	require.NoError(t, repo.Delete(ctx, b.ID))

	broken, err := svc.BrokenLinks(ctx)
	require.NoError(t, err)
	require.Len(t, broken, 1)
	assert.Equal(t, a.ID, broken[0].SourceID)
	assert.Equal(t, b.ID, broken[0].TargetID)

	fwd, err := svc.ForwardLinks(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, fwd, 1)
	assert.True(t, fwd[0].Broken)

	orphans, err := svc.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans, "a note with a broken outgoing link is not an orphan")
}

func TestOrphansHubsCentral(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	hub := create(t, repo, "Hub", models.NoteHub)
	lonely := create(t, repo, "Lonely", models.NoteFleeting)
	var spokes []*models.Note
	for _, title := range []string{"S1", "S2", "S3"} {
		s := create(t, repo, title, models.NotePermanent)
		linkNotes(t, repo, hub, s, models.LinkReference, "")
		spokes = append(spokes, s)
	}
	linkNotes(t, repo, spokes[0], spokes[1], models.LinkExtends, "")

	orphans, err := svc.Orphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{lonely.ID}, noteIDs(orphans))

	hubs, err := svc.Hubs(ctx, 3)
	require.NoError(t, err)
	require.Len(t, hubs, 1)
	assert.Equal(t, hub.ID, hubs[0].ID)
	assert.Equal(t, 3, hubs[0].Total())

	central, err := svc.Central(ctx, 3)
	require.NoError(t, err)
	require.Len(t, central, 3)
	assert.Equal(t, hub.ID, central[0].ID)
	assert.Equal(t, spokes[0].ID, central[1].ID)
	assert.Equal(t, spokes[1].ID, central[2].ID)
}

func TestTagsAndFindByTag(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	one := create(t, repo, "Python Programming", models.NotePermanent, "python", "test")
	two := create(t, repo, "JavaScript Basics", models.NotePermanent, "Python", "example")
	create(t, repo, "Data", models.NoteStructure, "test", "example")

	py, err := svc.FindByTag(ctx, "PYTHON")
	require.NoError(t, err)
	assert.Equal(t, []string{one.ID, two.ID}, noteIDs(py))

	tags, err := svc.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []index.TagCount{{Name: "example", Count: 2}, {Name: "python", Count: 2}, {Name: "test", Count: 2}}, tags)

	js, err := svc.Search(ctx, Filter{Title: "javascript"})
	require.NoError(t, err)
	assert.Equal(t, []string{two.ID}, noteIDs(js))

	structure, err := svc.Search(ctx, Filter{NoteType: models.NoteStructure})
	require.NoError(t, err)
	assert.Len(t, structure, 1)

	_, err = svc.Search(ctx, Filter{NoteType: "draft"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Search(ctx, Filter{LinkType: "inspires"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFindByTag_BlankTagRejected(t *testing.T) {
	repo, svc, _ := setup(t)
	create(t, repo, "Tagged", models.NotePermanent, "python")

	for _, tag := range []string{"", "   "} {
		notes, err := svc.FindByTag(context.Background(), tag)
		assert.ErrorIs(t, err, apperr.ErrValidation, "tag %q", tag)
		assert.Empty(t, notes)
	}
}

func TestSearchLinkedTo(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	a := create(t, repo, "A", models.NotePermanent)
	b := create(t, repo, "B", models.NotePermanent)
	c := create(t, repo, "C", models.NotePermanent)
	linkNotes(t, repo, a, b, models.LinkContradicts, "")
	linkNotes(t, repo, c, b, models.LinkSupports, "")

	got, err := svc.Search(ctx, Filter{LinkedTo: b.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, c.ID}, noteIDs(got))

	got, err = svc.Search(ctx, Filter{LinkedTo: b.ID, LinkType: models.LinkSupports})
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, noteIDs(got))

	got, err = svc.Search(ctx, Filter{LinkedTo: a.ID, LinkType: models.LinkContradictedBy})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, noteIDs(got))
}

func TestByDate(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	old, err := repo.Create(ctx, models.Note{
		Title:     "Old",
		Type:      models.NotePermanent,
		CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	fresh := create(t, repo, "Fresh", models.NotePermanent)

	got, err := svc.ByDate(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, noteIDs(got))

	got, err = svc.ByDate(ctx, time.Time{}, time.Time{}, false, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID, old.ID}, noteIDs(got))

	_, err = repo.Modify(ctx, old.ID, func(n *models.Note) error {
		n.Content = "touched"
		return nil
	})
	require.NoError(t, err)
	got, err = svc.ByDate(ctx, time.Time{}, time.Time{}, true, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID}, noteIDs(got))
}

func TestSimilar(t *testing.T) {
	repo, svc, _ := setup(t)
	ctx := context.Background()
	base := create(t, repo, "Base", models.NotePermanent, "go", "sql")
	twin := create(t, repo, "Twin", models.NotePermanent, "go", "sql")
	linked := create(t, repo, "Linked", models.NotePermanent)
	create(t, repo, "Stranger", models.NotePermanent, "cooking")
	linkNotes(t, repo, base, linked, models.LinkRelated, "")

	got, err := svc.Similar(ctx, base.ID, 0.1, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, twin.ID, got[0].Note.ID)
	assert.InDelta(t, tagWeight, got[0].Score, 1e-9)
	assert.Equal(t, linked.ID, got[1].Note.ID)
	assert.InDelta(t, directWeight, got[1].Score, 1e-9)

	got, err = svc.Similar(ctx, base.ID, 0.3, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.Similar(ctx, "missing", 0.5, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.Similar(ctx, base.ID, 2, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
