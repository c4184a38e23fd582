package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/codec"
	"github.com/starford/zettel/internal/models"
)

// idPattern keeps ids usable as file names.
var idPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]*$`)

// validate applies the note policy. Failures are reported as a
// *apperr.ValidationError carrying ozzo's per-field errors.
func (r *Repository) validate(n *models.Note) error {
	err := validation.ValidateStruct(n,
		validation.Field(&n.ID, validation.Required, validation.Match(idPattern)),
		validation.Field(&n.Title, validation.By(notBlank)),
		validation.Field(&n.Content, validation.When(r.requireContent, validation.By(notBlank))),
		validation.Field(&n.Type, validation.Required, validation.By(validNoteType)),
		validation.Field(&n.Links, validation.By(validLinks(n.ID))),
		validation.Field(&n.Metadata, validation.By(validMetadata)),
	)
	if err == nil {
		return nil
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return fmt.Errorf("repository: validate: %w", err)
	}
	return apperr.NewValidationError(err)
}

func notBlank(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func validNoteType(value any) error {
	t, _ := value.(models.NoteType)
	if !t.Valid() {
		return fmt.Errorf("must be one of %v", models.NoteTypes)
	}
	return nil
}

func validLinks(sourceID string) validation.RuleFunc {
	return func(value any) error {
		links, _ := value.([]models.Link)
		for i, l := range links {
			switch {
			case !l.Type.Valid():
				return fmt.Errorf("link %d: unknown link type %q", i, l.Type)
			case !idPattern.MatchString(l.TargetID):
				return fmt.Errorf("link %d: invalid target id %q", i, l.TargetID)
			case l.TargetID == sourceID:
				return fmt.Errorf("link %d: a note cannot link to itself", i)
			}
		}
		return nil
	}
}

func validMetadata(value any) error {
	meta, _ := value.(map[string]string)
	for k := range meta {
		if strings.TrimSpace(k) == "" {
			return errors.New("keys cannot be blank")
		}
		if codec.IsReservedKey(k) {
			return fmt.Errorf("key %q is reserved", k)
		}
	}
	return nil
}

type linkKey struct {
	target string
	typ    models.LinkType
}

// canonicalize brings n into the shape the codec reproduces exactly: a
// normalized tag set, links de-duplicated by (target, type) with single-line
// descriptions, and empty collections as nil. Links already on prev keep
// their creation time; new ones are stamped with n.UpdatedAt. prev is nil
// for a new note.
func canonicalize(n, prev *models.Note) {
	n.Tags = n.Tags.Canonical()

	created := map[linkKey]time.Time{}
	if prev != nil {
		for _, l := range prev.Links {
			created[linkKey{l.TargetID, l.Type}] = l.CreatedAt
		}
	}

	links := n.Links
	n.Links = nil
	for _, l := range links {
		l.TargetID = strings.TrimSpace(l.TargetID)
		l.Description = strings.Join(strings.Fields(l.Description), " ")
		if t, ok := created[linkKey{l.TargetID, l.Type}]; ok && !t.IsZero() {
			l.CreatedAt = t
		} else {
			l.CreatedAt = n.UpdatedAt
		}
		n.AddLink(l)
	}

	if len(n.Metadata) == 0 {
		n.Metadata = nil
	}
}
