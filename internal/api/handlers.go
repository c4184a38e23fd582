package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/checksum"
	"github.com/starford/zettel/internal/codec"
	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/repository"
)

// Handler holds API route handlers.
type Handler struct {
	repo   *repository.Repository
	graph  *graph.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo *repository.Repository, graphs *graph.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, graph: graphs, logger: logger}
}

func noteID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// etag fingerprints the canonical encoding of n.
func etag(n *models.Note) string {
	data, err := codec.Encode(*n)
	if err != nil {
		return ""
	}
	return checksum.ETag(data)
}

// ListNotes handles GET /api/notes.
//
//	@Summary		Search notes; every filter is optional and filters combine with AND
//	@Tags			notes
//	@Produce		json
//	@Param			content		query		string	false	"Case-insensitive substring of title or body"
//	@Param			title		query		string	false	"Case-insensitive substring of title"
//	@Param			tag			query		[]string	false	"Required tag (repeatable)"
//	@Param			note_type	query		string	false	"Note type"
//	@Param			linked_to	query		string	false	"Note id connected in either direction"
//	@Param			link_type	query		string	false	"Link type, seen from the matching note"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	offset, err := intParam(q, "offset", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	notes, err := h.graph.Search(r.Context(), graph.Filter{
		Content:  q.Get("content"),
		Title:    q.Get("title"),
		Tags:     q["tag"],
		NoteType: models.NoteType(q.Get("note_type")),
		LinkedTo: q.Get("linked_to"),
		LinkType: models.LinkType(q.Get("link_type")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		writeError(w, h.logger, "search notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: nonNil(notes), Total: len(notes)})
}

// Timeline handles GET /api/timeline.
//
//	@Summary		List notes created or updated within a time window, newest first
//	@Tags			notes
//	@Produce		json
//	@Param			from	query		string	false	"RFC 3339 time or YYYY-MM-DD"
//	@Param			to		query		string	false	"RFC 3339 time or YYYY-MM-DD"
//	@Param			field	query		string	false	"created or updated"	Enums(created, updated)
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/timeline [get]
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := timeParam(q, "from", false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	to, err := timeParam(q, "to", true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	limit, err := intParam(q, "limit", 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	var useUpdated bool
	switch q.Get("field") {
	case "", "created":
	case "updated":
		useUpdated = true
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("field must be created or updated"))
		return
	}

	notes, err := h.graph.ByDate(r.Context(), from, to, useUpdated, limit)
	if err != nil {
		writeError(w, h.logger, "timeline", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: nonNil(notes), Total: len(notes)})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a note, read from its file
//	@Tags			notes
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	models.Note
//	@Failure		404	{object}	errResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	n, err := h.repo.Get(r.Context(), noteID(r))
	if err != nil {
		writeError(w, h.logger, "get note", err)
		return
	}
	w.Header().Set("ETag", etag(n))
	writeJSON(w, http.StatusOK, n)
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NoteRequest	true	"Note to create"
//	@Success		201		{object}	models.Note
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.repo.Create(r.Context(), req.toNote(req.ID))
	if err != nil {
		writeError(w, h.logger, "create note", err)
		return
	}
	w.Header().Set("ETag", etag(n))
	w.Header().Set("Location", "/api/notes/"+url.PathEscape(n.ID))
	writeJSON(w, http.StatusCreated, n)
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Replace the mutable fields of a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		string		true	"Note id"
//	@Param			If-Match	header		string		false	"ETag from a previous read"
//	@Param			body		body		NoteRequest	true	"New note state"
//	@Success		200			{object}	models.Note
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	var req NoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID != "" && req.ID != id {
		writeJSON(w, http.StatusBadRequest, errorBody("body id does not match path"))
		return
	}
	ifMatch := strings.TrimSpace(r.Header.Get("If-Match"))
	next := req.toNote(id)

	n, err := h.repo.Modify(r.Context(), id, func(cur *models.Note) error {
		if ifMatch != "" && ifMatch != "*" && ifMatch != etag(cur) {
			return fmt.Errorf("api: note %s: %w: etag mismatch", id, apperr.ErrConflict)
		}
		cur.Title = next.Title
		cur.Content = next.Content
		if next.Type != "" {
			cur.Type = next.Type
		}
		cur.Tags = next.Tags
		cur.Links = next.Links
		cur.Metadata = next.Metadata
		return nil
	})
	if err != nil {
		writeError(w, h.logger, "update note", err)
		return
	}
	w.Header().Set("ETag", etag(n))
	writeJSON(w, http.StatusOK, n)
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note; links pointing at it become broken
//	@Tags			notes
//	@Param			id	path	string	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), noteID(r)); err != nil {
		writeError(w, h.logger, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForwardLinks handles GET /api/notes/{id}/links.
//
//	@Summary		Outgoing edges of a note
//	@Tags			links
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	EdgeListResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links [get]
func (h *Handler) ForwardLinks(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	edges, err := h.graph.ForwardLinks(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "forward links", err)
		return
	}
	writeJSON(w, http.StatusOK, EdgeListResponse{ID: id, Edges: nonNil(edges)})
}

// Backlinks handles GET /api/notes/{id}/backlinks.
//
//	@Summary		Incoming edges of a note, typed from its side
//	@Tags			links
//	@Produce		json
//	@Param			id	path		string	true	"Note id"
//	@Success		200	{object}	EdgeListResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	edges, err := h.graph.Backlinks(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, EdgeListResponse{ID: id, Edges: nonNil(edges)})
}

// LinkedNotes handles GET /api/notes/{id}/linked.
//
//	@Summary		Edges of a note in one or both directions
//	@Tags			links
//	@Produce		json
//	@Param			id			path		string	true	"Note id"
//	@Param			direction	query		string	false	"Direction"	Enums(outgoing, incoming, both)
//	@Success		200			{object}	EdgeListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/linked [get]
func (h *Handler) LinkedNotes(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	dir, err := graph.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	edges, err := h.graph.LinkedNotes(r.Context(), id, dir)
	if err != nil {
		writeError(w, h.logger, "linked notes", err)
		return
	}
	writeJSON(w, http.StatusOK, EdgeListResponse{ID: id, Edges: nonNil(edges)})
}

// Similar handles GET /api/notes/{id}/similar.
//
//	@Summary		Notes sharing tags or neighbours with a note
//	@Tags			links
//	@Produce		json
//	@Param			id			path		string	true	"Note id"
//	@Param			threshold	query		number	false	"Minimum score in [0,1]"
//	@Param			limit		query		int		false	"Max results"
//	@Success		200			{object}	ScoredListResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/similar [get]
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	id := noteID(r)
	q := r.URL.Query()
	threshold := 0.3
	if s := q.Get("threshold"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("threshold must be a number"))
			return
		}
		threshold = v
	}
	limit, err := intParam(q, "limit", 10)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	scored, err := h.graph.Similar(r.Context(), id, threshold, limit)
	if err != nil {
		writeError(w, h.logger, "similar notes", err)
		return
	}
	writeJSON(w, http.StatusOK, ScoredListResponse{ID: id, Results: nonNil(scored)})
}

// AddLink handles POST /api/notes/{id}/links.
//
//	@Summary		Add a link from a note
//	@Tags			links
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Source note id"
//	@Param			body	body		LinkRequest	true	"Link to add"
//	@Success		200		{object}	models.Note
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links [post]
func (h *Handler) AddLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lt := req.LinkType
	if lt == "" {
		lt = models.LinkReference
	}
	n, err := h.repo.AddLink(r.Context(), noteID(r), req.TargetID, lt, req.Description, req.Bidirectional)
	if err != nil {
		writeError(w, h.logger, "add link", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// RemoveLink handles DELETE /api/notes/{id}/links.
//
//	@Summary		Remove links from a note to a target
//	@Tags			links
//	@Produce		json
//	@Param			id				path		string	true	"Source note id"
//	@Param			target			query		string	true	"Target note id"
//	@Param			link_type		query		string	false	"Only links of this type"
//	@Param			bidirectional	query		bool	false	"Also remove the inverse links on the target"
//	@Success		200				{object}	models.Note
//	@Failure		400				{object}	errResponse
//	@Failure		404				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id}/links [delete]
func (h *Handler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'target' is required"))
		return
	}
	bidirectional, _ := strconv.ParseBool(q.Get("bidirectional"))
	n, err := h.repo.RemoveLink(r.Context(), noteID(r), target, models.LinkType(q.Get("link_type")), bidirectional)
	if err != nil {
		writeError(w, h.logger, "remove link", err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// Orphans handles GET /api/graph/orphans.
//
//	@Summary		Notes with no links in either direction
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	NoteListResponse
//	@Security		BearerAuth
//	@Router			/graph/orphans [get]
func (h *Handler) Orphans(w http.ResponseWriter, r *http.Request) {
	notes, err := h.graph.Orphans(r.Context())
	if err != nil {
		writeError(w, h.logger, "orphans", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: nonNil(notes), Total: len(notes)})
}

// Hubs handles GET /api/graph/hubs.
//
//	@Summary		Notes whose combined degree reaches a threshold
//	@Tags			graph
//	@Produce		json
//	@Param			threshold	query		int	false	"Minimum degree"
//	@Success		200			{object}	DegreeListResponse
//	@Security		BearerAuth
//	@Router			/graph/hubs [get]
func (h *Handler) Hubs(w http.ResponseWriter, r *http.Request) {
	threshold, err := intParam(r.URL.Query(), "threshold", 5)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	hubs, err := h.graph.Hubs(r.Context(), threshold)
	if err != nil {
		writeError(w, h.logger, "hubs", err)
		return
	}
	writeJSON(w, http.StatusOK, DegreeListResponse{Notes: nonNil(hubs)})
}

// Central handles GET /api/graph/central.
//
//	@Summary		The best-connected notes
//	@Tags			graph
//	@Produce		json
//	@Param			limit	query		int	false	"Max results"
//	@Success		200		{object}	DegreeListResponse
//	@Security		BearerAuth
//	@Router			/graph/central [get]
func (h *Handler) Central(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", 10)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	central, err := h.graph.Central(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, "central", err)
		return
	}
	writeJSON(w, http.StatusOK, DegreeListResponse{Notes: nonNil(central)})
}

// Broken handles GET /api/graph/broken.
//
//	@Summary		Links whose target is not indexed
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	BrokenLinksResponse
//	@Security		BearerAuth
//	@Router			/graph/broken [get]
func (h *Handler) Broken(w http.ResponseWriter, r *http.Request) {
	links, err := h.graph.BrokenLinks(r.Context())
	if err != nil {
		writeError(w, h.logger, "broken links", err)
		return
	}
	writeJSON(w, http.StatusOK, BrokenLinksResponse{Links: nonNil(links)})
}

// Tags handles GET /api/tags.
//
//	@Summary		Tags in use with their note counts
//	@Tags			tags
//	@Produce		json
//	@Success		200	{object}	TagListResponse
//	@Security		BearerAuth
//	@Router			/tags [get]
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.graph.Tags(r.Context())
	if err != nil {
		writeError(w, h.logger, "tags", err)
		return
	}
	writeJSON(w, http.StatusOK, TagListResponse{Tags: nonNil(tags)})
}

// Rebuild handles POST /api/index/rebuild.
//
//	@Summary		Rebuild the index from the note files
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	repository.RebuildReport
//	@Security		BearerAuth
//	@Router			/index/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	report, err := h.repo.Rebuild(r.Context())
	if err != nil {
		writeError(w, h.logger, "rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Reconcile handles POST /api/index/reconcile.
//
//	@Summary		Repair index rows that disagree with the note files
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	repository.ReconcileReport
//	@Security		BearerAuth
//	@Router			/index/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.repo.Reconcile(r.Context())
	if err != nil {
		writeError(w, h.logger, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Drift handles GET /api/index/drift.
//
//	@Summary		Compare the index with the note files without changing either
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	repository.DriftReport
//	@Security		BearerAuth
//	@Router			/index/drift [get]
func (h *Handler) Drift(w http.ResponseWriter, r *http.Request) {
	report, err := h.repo.CheckDrift(r.Context())
	if err != nil {
		writeError(w, h.logger, "check drift", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func intParam(q url.Values, name string, def int) (int, error) {
	s := q.Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return v, nil
}

// timeParam reads an RFC 3339 time or a bare date. A bare date used as an
// upper bound covers the whole day.
func timeParam(q url.Values, name string, endOfDay bool) (time.Time, error) {
	s := q.Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, errors.New(name + " must be an RFC 3339 time or YYYY-MM-DD")
}
