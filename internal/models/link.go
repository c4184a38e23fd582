package models

import (
	"fmt"
	"time"
)

// LinkType names the semantic relationship carried by a link.
type LinkType string

const (
	LinkReference      LinkType = "reference"
	LinkExtends        LinkType = "extends"
	LinkExtendedBy     LinkType = "extended_by"
	LinkRefines        LinkType = "refines"
	LinkRefinedBy      LinkType = "refined_by"
	LinkContradicts    LinkType = "contradicts"
	LinkContradictedBy LinkType = "contradicted_by"
	LinkQuestions      LinkType = "questions"
	LinkQuestionedBy   LinkType = "questioned_by"
	LinkSupports       LinkType = "supports"
	LinkSupportedBy    LinkType = "supported_by"
	LinkRelated        LinkType = "related"
)

// Link is a directed edge owned by its source note. Links are immutable
// values: editing one means replacing it.
type Link struct {
	SourceID    string    `json:"source_id"`
	TargetID    string    `json:"target_id"`
	Type        LinkType  `json:"link_type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// linkRule is one row of the link rules table.
type linkRule struct {
	inverse   LinkType
	symmetric bool
}

// linkRules maps every link type to its inverse. Symmetric types are their own
// inverse.
var linkRules = map[LinkType]linkRule{
	LinkReference:      {inverse: LinkReference, symmetric: true},
	LinkExtends:        {inverse: LinkExtendedBy},
	LinkExtendedBy:     {inverse: LinkExtends},
	LinkRefines:        {inverse: LinkRefinedBy},
	LinkRefinedBy:      {inverse: LinkRefines},
	LinkContradicts:    {inverse: LinkContradictedBy},
	LinkContradictedBy: {inverse: LinkContradicts},
	LinkQuestions:      {inverse: LinkQuestionedBy},
	LinkQuestionedBy:   {inverse: LinkQuestions},
	LinkSupports:       {inverse: LinkSupportedBy},
	LinkSupportedBy:    {inverse: LinkSupports},
	LinkRelated:        {inverse: LinkRelated, symmetric: true},
}

// LinkTypes lists every known link type in table order.
var LinkTypes = []LinkType{
	LinkReference,
	LinkExtends, LinkExtendedBy,
	LinkRefines, LinkRefinedBy,
	LinkContradicts, LinkContradictedBy,
	LinkQuestions, LinkQuestionedBy,
	LinkSupports, LinkSupportedBy,
	LinkRelated,
}

// Valid reports whether t is a known link type.
func (t LinkType) Valid() bool {
	_, ok := linkRules[t]
	return ok
}

// Inverse returns the type used when traversing the edge from target to source.
// Unknown types are returned unchanged.
func (t LinkType) Inverse() LinkType {
	if r, ok := linkRules[t]; ok {
		return r.inverse
	}
	return t
}

// Symmetric reports whether t is its own inverse.
func (t LinkType) Symmetric() bool {
	return linkRules[t].symmetric
}

// ParseLinkType converts s to a LinkType.
func ParseLinkType(s string) (LinkType, error) {
	t := LinkType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown link type %q", s)
	}
	return t, nil
}
