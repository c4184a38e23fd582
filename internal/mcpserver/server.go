// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the note repository and graph queries as tools over stdio.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/models"
	"github.com/starford/zettel/internal/repository"
)

// Server wraps the MCP server with the note tools.
type Server struct {
	mcp    *server.MCPServer
	repo   *repository.Repository
	graph  *graph.Service
	logger *slog.Logger

	handlers map[string]server.ToolHandlerFunc
}

// New creates a new MCP server with all note tools registered.
func New(repo *repository.Repository, graphs *graph.Service, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		repo:     repo,
		graph:    graphs,
		logger:   logger,
		handlers: make(map[string]server.ToolHandlerFunc),
	}

	s.mcp = server.NewMCPServer(
		"Zettel",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)

	noteTypes := enumOf(models.NoteTypes)
	linkTypes := enumOf(models.LinkTypes)

	s.add(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note. The id is generated unless given. "+
			"Read the note format via get_note_contract or the "+NoteFormatURI+" resource first."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
		mcp.WithString("content", mcp.Description("Markdown body")),
		mcp.WithString("note_type", mcp.Description("Note type (default permanent)"), mcp.Enum(noteTypes...)),
		mcp.WithArray("tags", mcp.Description("Tag names"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("id", mcp.Description("Explicit id; letters, digits, '.', '_' and '-'")),
	), s.createNote)

	s.add(mcp.NewTool("get_note",
		mcp.WithDescription("Read a note from its file, with tags and outgoing links."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getNote)

	s.add(mcp.NewTool("update_note",
		mcp.WithDescription("Update a note. Only the fields given are changed; tags replace the current set."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New Markdown body")),
		mcp.WithString("note_type", mcp.Description("New note type"), mcp.Enum(noteTypes...)),
		mcp.WithArray("tags", mcp.Description("New tag names"), mcp.Items(map[string]any{"type": "string"})),
	), s.updateNote)

	s.add(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note. Links from other notes to it remain and are reported as broken."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

	s.add(mcp.NewTool("create_link",
		mcp.WithDescription("Add a typed link from one note to another. Both notes must exist."),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Id of the note that owns the link")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Id of the linked note")),
		mcp.WithString("link_type", mcp.Description("Link type (default reference)"), mcp.Enum(linkTypes...)),
		mcp.WithString("description", mcp.Description("Why the notes are linked")),
		mcp.WithBoolean("bidirectional", mcp.Description("Also store the inverse link on the target")),
	), s.createLink)

	s.add(mcp.NewTool("remove_link",
		mcp.WithDescription("Remove links from one note to another."),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Id of the note that owns the link")),
		mcp.WithString("target_id", mcp.Required(), mcp.Description("Id of the linked note")),
		mcp.WithString("link_type", mcp.Description("Only links of this type; all types when omitted"), mcp.Enum(linkTypes...)),
		mcp.WithBoolean("bidirectional", mcp.Description("Also remove the inverse links on the target")),
	), s.removeLink)

	s.add(mcp.NewTool("search_notes",
		mcp.WithDescription("Find notes. Every filter is optional; filters combine with AND."),
		mcp.WithString("query", mcp.Description("Case-insensitive text in title or body")),
		mcp.WithString("title", mcp.Description("Case-insensitive text in title")),
		mcp.WithArray("tags", mcp.Description("Notes must carry all of these tags"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("note_type", mcp.Description("Note type"), mcp.Enum(noteTypes...)),
		mcp.WithString("linked_to", mcp.Description("Id of a note connected in either direction")),
		mcp.WithString("link_type", mcp.Description("Link type, seen from the matching note"), mcp.Enum(linkTypes...)),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchNotes)

	s.add(mcp.NewTool("get_linked_notes",
		mcp.WithDescription("List the edges of a note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("direction", mcp.Description("Direction (default both)"), mcp.Enum(string(graph.Outgoing), string(graph.Incoming), string(graph.Both))),
	), s.getLinkedNotes)

	s.add(mcp.NewTool("get_backlinks",
		mcp.WithDescription("List the notes linking to a note, typed from its side (extends becomes extended_by)."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getBacklinks)

	s.add(mcp.NewTool("get_all_tags",
		mcp.WithDescription("List every tag in use with its note count."),
	), s.getAllTags)

	s.add(mcp.NewTool("find_similar_notes",
		mcp.WithDescription("Score other notes by shared tags, shared neighbours and a direct link."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithNumber("threshold", mcp.Description("Minimum score in [0,1] (default 0.3)")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
	), s.findSimilarNotes)

	s.add(mcp.NewTool("find_central_notes",
		mcp.WithDescription("List the best-connected notes."),
		mcp.WithNumber("limit", mcp.Description("Max results (default 10)")),
	), s.findCentralNotes)

	s.add(mcp.NewTool("find_orphaned_notes",
		mcp.WithDescription("List notes with no links in either direction."),
	), s.findOrphanedNotes)

	s.add(mcp.NewTool("find_broken_links",
		mcp.WithDescription("List links whose target note does not exist."),
	), s.findBrokenLinks)

	s.add(mcp.NewTool("list_notes_by_date",
		mcp.WithDescription("List notes created (or updated) in a date range, newest first."),
		mcp.WithString("start_date", mcp.Description("YYYY-MM-DD or RFC 3339; open when omitted")),
		mcp.WithString("end_date", mcp.Description("YYYY-MM-DD or RFC 3339; open when omitted")),
		mcp.WithBoolean("use_updated", mcp.Description("Filter on the update time instead of the creation time")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.listNotesByDate)

	s.add(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the search index from the note files and report unreadable files and broken links."),
	), s.rebuildIndex)

	s.add(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note file format and the link vocabulary."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(NoteFormatURI, "Note Format Contract",
			mcp.WithResourceDescription("On-disk note format and link vocabulary."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

func (s *Server) add(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.handlers[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// ServeStdio serves MCP over in and out until ctx is cancelled or in closes.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ToolNames returns the registered tool names.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      NoteFormatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func enumOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
