// Package graph answers search and link-graph questions from the index.
// It never reads note files: every answer reflects the index as of the last
// committed repository write.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/models"
)

// Direction selects which edges of a note to traverse.
type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
	Both     Direction = "both"
)

// ParseDirection converts s to a Direction; empty means Both.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case "":
		return Both, nil
	case Outgoing, Incoming, Both:
		return d, nil
	}
	return "", apperr.NewValidationError(fmt.Errorf("unknown direction %q", s))
}

// Filter selects notes for Search. Zero-valued fields are ignored; the rest
// combine with AND.
type Filter struct {
	Content  string          `json:"content,omitempty"`
	Title    string          `json:"title,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	NoteType models.NoteType `json:"note_type,omitempty"`
	LinkedTo string          `json:"linked_to,omitempty"`
	LinkType models.LinkType `json:"link_type,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Edge is a link seen from one of its endpoints. Type is the type as read
// from that endpoint: incoming links carry the inverse of their stored type.
type Edge struct {
	PeerID      string          `json:"peer_id"`
	PeerTitle   string          `json:"peer_title,omitempty"`
	Type        models.LinkType `json:"link_type"`
	Description string          `json:"description,omitempty"`
	Direction   Direction       `json:"direction"`
	// Broken is set when the peer has no index row.
	Broken bool `json:"broken,omitempty"`
	// Link is the stored row the edge was derived from.
	Link models.Link `json:"link"`
}

// Scored is a note with a similarity score in [0, 1].
type Scored struct {
	Note  models.Note `json:"note"`
	Score float64     `json:"score"`
}

// Service runs graph queries against an index reader.
type Service struct {
	idx index.Reader
}

// New creates a Service.
func New(idx index.Reader) *Service {
	return &Service{idx: idx}
}

// Search returns the notes matching f in id order.
func (s *Service) Search(ctx context.Context, f Filter) ([]models.Note, error) {
	if f.NoteType != "" && !f.NoteType.Valid() {
		return nil, apperr.NewValidationError(fmt.Errorf("unknown note type %q", f.NoteType))
	}
	if f.LinkType != "" && !f.LinkType.Valid() {
		return nil, apperr.NewValidationError(fmt.Errorf("unknown link type %q", f.LinkType))
	}
	if f.Limit < 0 || f.Offset < 0 {
		return nil, apperr.NewValidationError(errors.New("limit and offset must not be negative"))
	}
	return s.idx.Search(ctx, index.Query{
		Content:  f.Content,
		Title:    f.Title,
		Tags:     f.Tags,
		NoteType: f.NoteType,
		LinkedTo: f.LinkedTo,
		LinkType: f.LinkType,
		Limit:    f.Limit,
		Offset:   f.Offset,
	})
}

// FindByTag returns the notes carrying tag. A blank tag is rejected rather
// than read as "no filter".
func (s *Service) FindByTag(ctx context.Context, tag string) ([]models.Note, error) {
	if models.NormalizeTagName(tag) == "" {
		return nil, apperr.NewValidationError(errors.New("tag must not be blank"))
	}
	return s.idx.Search(ctx, index.Query{Tags: []string{tag}})
}

// ByDate returns notes created (or updated, with useUpdated) within
// [from, to], newest first. Zero bounds are open.
func (s *Service) ByDate(ctx context.Context, from, to time.Time, useUpdated bool, limit int) ([]models.Note, error) {
	q := index.Query{Order: index.OrderCreated, Limit: limit}
	if useUpdated {
		q.Order = index.OrderUpdated
		q.UpdatedFrom, q.UpdatedTo = from, to
	} else {
		q.CreatedFrom, q.CreatedTo = from, to
	}
	return s.idx.Search(ctx, q)
}

// ForwardLinks returns the links stored on id, plus symmetric links stored on
// other notes that point at id: those edges have no direction.
func (s *Service) ForwardLinks(ctx context.Context, id string) ([]Edge, error) {
	out, err := s.idx.LinksFrom(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := s.idx.LinksTo(ctx, id)
	if err != nil {
		return nil, err
	}

	var edges []Edge
	for _, r := range out {
		edges = append(edges, outgoingEdge(r))
	}
	for _, r := range in {
		if r.Type.Symmetric() {
			edges = append(edges, incomingEdge(r))
		}
	}
	return dedupe(edges), nil
}

// Backlinks returns the links pointing at id, typed with the inverse of the
// stored type, plus the symmetric links id itself stores.
func (s *Service) Backlinks(ctx context.Context, id string) ([]Edge, error) {
	in, err := s.idx.LinksTo(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := s.idx.LinksFrom(ctx, id)
	if err != nil {
		return nil, err
	}

	var edges []Edge
	for _, r := range in {
		edges = append(edges, incomingEdge(r))
	}
	for _, r := range out {
		if r.Type.Symmetric() {
			edges = append(edges, outgoingEdge(r))
		}
	}
	return dedupe(edges), nil
}

// LinkedNotes returns the edges of id in the given direction.
func (s *Service) LinkedNotes(ctx context.Context, id string, dir Direction) ([]Edge, error) {
	switch dir {
	case Outgoing:
		return s.ForwardLinks(ctx, id)
	case Incoming:
		return s.Backlinks(ctx, id)
	case Both, "":
		fwd, err := s.ForwardLinks(ctx, id)
		if err != nil {
			return nil, err
		}
		back, err := s.Backlinks(ctx, id)
		if err != nil {
			return nil, err
		}
		return dedupe(append(fwd, back...)), nil
	}
	return nil, apperr.NewValidationError(fmt.Errorf("unknown direction %q", dir))
}

// Orphans returns notes with no links in either direction.
func (s *Service) Orphans(ctx context.Context) ([]models.Note, error) {
	return s.idx.Orphans(ctx)
}

// Hubs returns notes whose combined degree is at least threshold, highest first.
func (s *Service) Hubs(ctx context.Context, threshold int) ([]index.Degree, error) {
	if threshold < 1 {
		threshold = 1
	}
	return s.idx.Degrees(ctx, threshold, 0)
}

// Central returns the limit best-connected notes.
func (s *Service) Central(ctx context.Context, limit int) ([]index.Degree, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.idx.Degrees(ctx, 1, limit)
}

// BrokenLinks returns every stored link whose target is not indexed.
func (s *Service) BrokenLinks(ctx context.Context) ([]models.Link, error) {
	rows, err := s.idx.BrokenLinks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Link, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Link)
	}
	return out, nil
}

// Tags returns every tag in use with its note count.
func (s *Service) Tags(ctx context.Context) ([]index.TagCount, error) {
	return s.idx.TagCounts(ctx)
}

func outgoingEdge(r index.LinkRow) Edge {
	return Edge{
		PeerID:      r.TargetID,
		PeerTitle:   r.PeerTitle,
		Type:        r.Type,
		Description: r.Description,
		Direction:   Outgoing,
		Broken:      !r.PeerExists,
		Link:        r.Link,
	}
}

func incomingEdge(r index.LinkRow) Edge {
	return Edge{
		PeerID:      r.SourceID,
		PeerTitle:   r.PeerTitle,
		Type:        r.Type.Inverse(),
		Description: r.Description,
		Direction:   Incoming,
		Broken:      !r.PeerExists,
		Link:        r.Link,
	}
}

// dedupe keeps the first edge per (peer, type).
func dedupe(edges []Edge) []Edge {
	type key struct {
		peer string
		lt   models.LinkType
	}
	seen := make(map[key]struct{}, len(edges))
	out := edges[:0]
	for _, e := range edges {
		k := key{e.PeerID, e.Type}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// sortScored orders by score, then id.
func sortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].Note.ID < s[j].Note.ID
	})
}
