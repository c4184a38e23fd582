// Package models defines the domain types for the zettel knowledge base.
package models

import (
	"fmt"
	"time"
)

// NoteType classifies a note within the slip-box.
type NoteType string

const (
	NoteFleeting   NoteType = "fleeting"
	NoteLiterature NoteType = "literature"
	NotePermanent  NoteType = "permanent"
	NoteStructure  NoteType = "structure"
	NoteHub        NoteType = "hub"
)

// NoteTypes lists every valid note type.
var NoteTypes = []NoteType{NoteFleeting, NoteLiterature, NotePermanent, NoteStructure, NoteHub}

// Valid reports whether t is one of the known note types.
func (t NoteType) Valid() bool {
	for _, v := range NoteTypes {
		if t == v {
			return true
		}
	}
	return false
}

// ParseNoteType converts s to a NoteType.
func ParseNoteType(s string) (NoteType, error) {
	t := NoteType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown note type %q", s)
	}
	return t, nil
}

// Note is one atomic unit of knowledge. The file tree is authoritative for
// every field; index rows are a projection of it.
type Note struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Type      NoteType          `json:"note_type"`
	Tags      TagSet            `json:"tags"`
	Links     []Link            `json:"links"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AddLink appends an outgoing link unless one with the same target and type
// is already present. It reports whether the link was added.
func (n *Note) AddLink(l Link) bool {
	for _, existing := range n.Links {
		if existing.TargetID == l.TargetID && existing.Type == l.Type {
			return false
		}
	}
	l.SourceID = n.ID
	n.Links = append(n.Links, l)
	return true
}

// RemoveLinks drops outgoing links to target. An empty linkType removes links
// of every type. It returns the number of links removed.
func (n *Note) RemoveLinks(target string, linkType LinkType) int {
	kept := n.Links[:0]
	removed := 0
	for _, l := range n.Links {
		if l.TargetID == target && (linkType == "" || l.Type == linkType) {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == 0 {
		kept = nil
	}
	n.Links = kept
	return removed
}

// Clone returns a deep copy of n.
func (n Note) Clone() Note {
	out := n
	if n.Tags != nil {
		out.Tags = append(TagSet(nil), n.Tags...)
	}
	if n.Links != nil {
		out.Links = append([]Link(nil), n.Links...)
	}
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
