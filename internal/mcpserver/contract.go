package mcpserver

// NoteFormatURI is the resource URI the note format contract is served at.
const NoteFormatURI = "zettel://note-format"

// NoteFormatContract describes the on-disk note format and the link
// vocabulary, for LLM consumers that read or write note files directly.
const NoteFormatContract = `# Zettel Note Format Contract

Every note is one UTF-8 Markdown file named ` + "`" + `<id>.md` + "`" + ` at the vault root.
The file tree is authoritative; the search index is rebuilt from it.

## Structure

` + "```" + `markdown
---
id: 01JNQ3V8Z6X5C4B3A2M1K0HGFE      # REQUIRED – unique, never changes
title: Zettelkasten method          # used in search and graph views
type: permanent                     # REQUIRED – see note types
tags: [method, zettel]              # flat list, lowercased, deduplicated
created: 2025-01-15T10:30:00Z       # RFC 3339, UTC
updated: 2025-01-16T08:00:00Z       # RFC 3339, UTC
source: Luhmann 1981                # any other key is kept as metadata
---

Body text in standard Markdown.

## Links
extends [[01JNQ3V8Z6X5C4B3A2M1K0HGFF]] background <!-- created 2025-01-15T10:30:00Z -->
related [[01JNQ3V8Z6X5C4B3A2M1K0HGFG]]
` + "```" + `

## Rules

1. **The header comes first.** The ` + "`" + `---` + "`" + ` fences open the file.
2. **` + "`" + `id` + "`" + ` and ` + "`" + `type` + "`" + ` are required.** Files missing either are reported
   by index rebuilds and skipped.
3. **Ids** start with a letter or digit and contain only letters, digits,
   ` + "`" + `.` + "`" + `, ` + "`" + `_` + "`" + ` and ` + "`" + `-` + "`" + `. Notes created through the tools get a ULID.
4. **Tags** are case-insensitive; ` + "`" + `Go` + "`" + ` and ` + "`" + `go` + "`" + ` are the same tag.
5. **Links** live in the last ` + "`" + `## Links` + "`" + ` section, one per line:
   ` + "`" + `<link_type> [[<target_id>]] <optional description>` + "`" + `. A line without a
   type is a ` + "`" + `reference` + "`" + `. Descriptions are link metadata and are not searched
   as body text. A trailing ` + "`" + `<!-- created <RFC 3339> -->` + "`" + ` comment records when
   the link was made; lines without one take the note's ` + "`" + `updated` + "`" + ` time.
6. **Links are owned by their source.** Backlinks are derived, never written
   into the target file unless the link is created as bidirectional.
7. **Links to missing notes are allowed** and reported as broken.

## Note types

fleeting, literature, permanent, structure, hub

## Link types

| Type | Seen from the target |
|---|---|
| reference | reference |
| extends | extended_by |
| refines | refined_by |
| contradicts | contradicted_by |
| questions | questioned_by |
| supports | supported_by |
| related | related |

` + "`" + `reference` + "`" + ` and ` + "`" + `related` + "`" + ` are symmetric: they read the same from both ends.
`
