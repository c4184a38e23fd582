package graph

import (
	"context"
	"errors"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/index"
)

// Weights of the similarity components; they sum to 1.
const (
	tagWeight       = 0.4
	neighbourWeight = 0.4
	directWeight    = 0.2
)

// Similar scores every other note against id by shared tags, shared
// neighbours and a direct link between the two, and returns those scoring at
// least threshold, best first. A non-positive limit returns all of them.
func (s *Service) Similar(ctx context.Context, id string, threshold float64, limit int) ([]Scored, error) {
	if threshold < 0 || threshold > 1 {
		return nil, apperr.NewValidationError(errors.New("threshold must be within [0, 1]"))
	}
	if _, err := s.idx.GetNote(ctx, id); err != nil {
		return nil, err
	}
	notes, err := s.idx.Search(ctx, index.Query{})
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		known[n.ID] = struct{}{}
	}
	adj := make(map[string]map[string]struct{}, len(notes))
	connect := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]struct{})
		}
		adj[a][b] = struct{}{}
	}
	tags := make(map[string]map[string]struct{}, len(notes))
	for _, n := range notes {
		set := make(map[string]struct{}, len(n.Tags))
		for _, t := range n.Tags {
			set[t.Name] = struct{}{}
		}
		tags[n.ID] = set
		for _, l := range n.Links {
			if _, ok := known[l.TargetID]; ok && l.TargetID != n.ID {
				connect(n.ID, l.TargetID)
				connect(l.TargetID, n.ID)
			}
		}
	}

	var out []Scored
	for _, n := range notes {
		if n.ID == id {
			continue
		}
		_, direct := adj[id][n.ID]
		score := tagWeight*jaccard(tags[id], tags[n.ID], "", "") +
			neighbourWeight*jaccard(adj[id], adj[n.ID], id, n.ID)
		if direct {
			score += directWeight
		}
		if score > 0 && score >= threshold {
			out = append(out, Scored{Note: n, Score: score})
		}
	}
	sortScored(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// jaccard returns |a∩b| / |a∪b|, ignoring the keys skipA and skipB.
func jaccard(a, b map[string]struct{}, skipA, skipB string) float64 {
	inter, union := 0, 0
	for k := range a {
		if k == skipA || k == skipB {
			continue
		}
		union++
		if _, ok := b[k]; ok {
			inter++
		}
	}
	for k := range b {
		if k == skipA || k == skipB {
			continue
		}
		if _, ok := a[k]; !ok {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
