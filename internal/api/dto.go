package api

import (
	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/models"
)

// NoteRequest is the request body for creating or replacing a note.
type NoteRequest struct {
	ID       string            `json:"id,omitempty" example:"01JNQ3V8Z6X5C4B3A2M1K0HGFE"`
	Title    string            `json:"title" example:"Zettelkasten method"`
	Content  string            `json:"content" example:"One idea per note."`
	NoteType models.NoteType   `json:"note_type,omitempty" example:"permanent"`
	Tags     []string          `json:"tags,omitempty" example:"method,zettel"`
	Links    []LinkInput       `json:"links,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LinkInput is an outgoing link carried inside a NoteRequest.
type LinkInput struct {
	TargetID    string          `json:"target_id" validate:"required"`
	LinkType    models.LinkType `json:"link_type,omitempty" example:"extends"`
	Description string          `json:"description,omitempty"`
}

func (req NoteRequest) toNote(id string) models.Note {
	n := models.Note{
		ID:       id,
		Title:    req.Title,
		Content:  req.Content,
		Type:     req.NoteType,
		Tags:     models.NewTagSet(req.Tags...),
		Metadata: req.Metadata,
	}
	for _, l := range req.Links {
		lt := l.LinkType
		if lt == "" {
			lt = models.LinkReference
		}
		n.Links = append(n.Links, models.Link{TargetID: l.TargetID, Type: lt, Description: l.Description})
	}
	return n
}

// LinkRequest is the request body for POST /notes/{id}/links.
type LinkRequest struct {
	TargetID      string          `json:"target_id" validate:"required"`
	LinkType      models.LinkType `json:"link_type,omitempty" example:"extends"`
	Description   string          `json:"description,omitempty" example:"background"`
	Bidirectional bool            `json:"bidirectional,omitempty"`
}

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []models.Note `json:"notes" validate:"required"`
	Total int           `json:"total" example:"42" validate:"required"`
}

// EdgeListResponse wraps the edges of one note.
type EdgeListResponse struct {
	ID    string       `json:"id" validate:"required"`
	Edges []graph.Edge `json:"edges" validate:"required"`
}

// ScoredListResponse wraps similarity results.
type ScoredListResponse struct {
	ID      string         `json:"id" validate:"required"`
	Results []graph.Scored `json:"results" validate:"required"`
}

// DegreeListResponse wraps hub and centrality results.
type DegreeListResponse struct {
	Notes []index.Degree `json:"notes" validate:"required"`
}

// BrokenLinksResponse lists links whose target is not indexed.
type BrokenLinksResponse struct {
	Links []models.Link `json:"links" validate:"required"`
}

// TagListResponse lists tags with usage counts.
type TagListResponse struct {
	Tags []index.TagCount `json:"tags" validate:"required"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
