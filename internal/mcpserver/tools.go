package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/models"
)

const defaultLimit = 20

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.repo.Create(ctx, models.Note{
		ID:      req.GetString("id", ""),
		Title:   title,
		Content: req.GetString("content", ""),
		Type:    models.NoteType(req.GetString("note_type", "")),
		Tags:    models.NewTagSet(stringList(req, "tags")...),
	})
	if err != nil {
		return s.toolError("create_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.toolError("get_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	n, err := s.repo.Modify(ctx, id, func(cur *models.Note) error {
		if _, ok := args["title"]; ok {
			cur.Title = req.GetString("title", "")
		}
		if _, ok := args["content"]; ok {
			cur.Content = req.GetString("content", "")
		}
		if t := req.GetString("note_type", ""); t != "" {
			cur.Type = models.NoteType(t)
		}
		if _, ok := args["tags"]; ok {
			cur.Tags = models.NewTagSet(stringList(req, "tags")...)
		}
		return nil
	})
	if err != nil {
		return s.toolError("update_note", err), nil
	}
	return jsonResult(n)
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.toolError("delete_note", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) createLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, err := linkEnds(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lt := models.LinkType(req.GetString("link_type", string(models.LinkReference)))
	n, err := s.repo.AddLink(ctx, source, target, lt, req.GetString("description", ""), req.GetBool("bidirectional", false))
	if err != nil {
		return s.toolError("create_link", err), nil
	}
	return jsonResult(n)
}

func (s *Server) removeLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, err := linkEnds(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lt := models.LinkType(req.GetString("link_type", ""))
	n, err := s.repo.RemoveLink(ctx, source, target, lt, req.GetBool("bidirectional", false))
	if err != nil {
		return s.toolError("remove_link", err), nil
	}
	return jsonResult(n)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.graph.Search(ctx, graph.Filter{
		Content:  req.GetString("query", ""),
		Title:    req.GetString("title", ""),
		Tags:     stringList(req, "tags"),
		NoteType: models.NoteType(req.GetString("note_type", "")),
		LinkedTo: req.GetString("linked_to", ""),
		LinkType: models.LinkType(req.GetString("link_type", "")),
		Limit:    req.GetInt("limit", defaultLimit),
	})
	if err != nil {
		return s.toolError("search_notes", err), nil
	}
	return jsonResult(summaries(notes))
}

func (s *Server) getLinkedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir, err := graph.ParseDirection(req.GetString("direction", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := s.graph.LinkedNotes(ctx, id, dir)
	if err != nil {
		return s.toolError("get_linked_notes", err), nil
	}
	return jsonResult(nonNil(edges))
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	edges, err := s.graph.Backlinks(ctx, id)
	if err != nil {
		return s.toolError("get_backlinks", err), nil
	}
	if len(edges) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return jsonResult(edges)
}

func (s *Server) getAllTags(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tags, err := s.graph.Tags(ctx)
	if err != nil {
		return s.toolError("get_all_tags", err), nil
	}
	return jsonResult(nonNil(tags))
}

func (s *Server) findSimilarNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	scored, err := s.graph.Similar(ctx, id, req.GetFloat("threshold", 0.3), req.GetInt("limit", 10))
	if err != nil {
		return s.toolError("find_similar_notes", err), nil
	}
	type hit struct {
		noteSummary
		Score float64 `json:"score"`
	}
	out := make([]hit, 0, len(scored))
	for _, sc := range scored {
		out = append(out, hit{noteSummary: summarize(sc.Note), Score: sc.Score})
	}
	return jsonResult(out)
}

func (s *Server) findCentralNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	central, err := s.graph.Central(ctx, req.GetInt("limit", 10))
	if err != nil {
		return s.toolError("find_central_notes", err), nil
	}
	return jsonResult(nonNil(central))
}

func (s *Server) findOrphanedNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.graph.Orphans(ctx)
	if err != nil {
		return s.toolError("find_orphaned_notes", err), nil
	}
	return jsonResult(summaries(notes))
}

func (s *Server) findBrokenLinks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	links, err := s.graph.BrokenLinks(ctx)
	if err != nil {
		return s.toolError("find_broken_links", err), nil
	}
	return jsonResult(nonNil(links))
}

func (s *Server) listNotesByDate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := parseDate(req.GetString("start_date", ""), false)
	if err != nil {
		return mcp.NewToolResultError("start_date: " + err.Error()), nil
	}
	to, err := parseDate(req.GetString("end_date", ""), true)
	if err != nil {
		return mcp.NewToolResultError("end_date: " + err.Error()), nil
	}
	notes, err := s.graph.ByDate(ctx, from, to, req.GetBool("use_updated", false), req.GetInt("limit", defaultLimit))
	if err != nil {
		return s.toolError("list_notes_by_date", err), nil
	}
	return jsonResult(summaries(notes))
}

func (s *Server) rebuildIndex(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.repo.Rebuild(ctx)
	if err != nil {
		return s.toolError("rebuild_index", err), nil
	}
	return jsonResult(report)
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

// toolError turns a repository error into a tool error result. The error
// kind leads the message so callers can tell a missing note from bad input.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	var kind string
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		kind = "not found"
	case errors.Is(err, apperr.ErrConflict):
		kind = "conflict"
	case errors.Is(err, apperr.ErrValidation):
		kind = "invalid input"
	case errors.Is(err, apperr.ErrParse):
		kind = "unreadable note file"
	default:
		s.logger.Error("mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
		kind = "internal error"
	}
	return mcp.NewToolResultError(kind + ": " + err.Error())
}

// noteSummary is the listing form of a note: everything but the body.
type noteSummary struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Type      models.NoteType `json:"note_type"`
	Tags      []string        `json:"tags"`
	Links     int             `json:"links"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func summarize(n models.Note) noteSummary {
	return noteSummary{
		ID:        n.ID,
		Title:     n.Title,
		Type:      n.Type,
		Tags:      nonNil(n.Tags.Names()),
		Links:     len(n.Links),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func summaries(notes []models.Note) []noteSummary {
	out := make([]noteSummary, 0, len(notes))
	for _, n := range notes {
		out = append(out, summarize(n))
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func linkEnds(req mcp.CallToolRequest) (string, string, error) {
	source, err := req.RequireString("source_id")
	if err != nil {
		return "", "", err
	}
	target, err := req.RequireString("target_id")
	if err != nil {
		return "", "", err
	}
	return source, target, nil
}

// stringList reads key as a JSON array of strings, or as one
// comma-separated string.
func stringList(req mcp.CallToolRequest, key string) []string {
	switch v := req.GetArguments()[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return strings.Split(v, ",")
	}
	return nil
}

// parseDate reads an RFC 3339 time or a bare date. A bare date used as an
// upper bound covers the whole day.
func parseDate(s string, endOfDay bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
