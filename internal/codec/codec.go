// Package codec converts notes to and from their on-disk Markdown form: a YAML
// header, the body verbatim, and a trailing "## Links" section.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/zettel/internal/apperr"
	"github.com/starford/zettel/internal/models"
)

const (
	delim         = "---"
	linksHeading  = "## Links"
	FileExtension = ".md"
)

// Header keys, in the order they are written.
const (
	KeyID      = "id"
	KeyTitle   = "title"
	KeyType    = "type"
	KeyTags    = "tags"
	KeyCreated = "created"
	KeyUpdated = "updated"
)

var reservedKeys = map[string]struct{}{
	KeyID: {}, KeyTitle: {}, KeyType: {}, KeyTags: {}, KeyCreated: {}, KeyUpdated: {},
}

// IsReservedKey reports whether key is one of the fixed header fields and
// therefore unavailable for free-form metadata.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// linkLineRe matches "<type> [[<target>]] <description>"; a leading list
// marker, a missing type and a "|alias" suffix are tolerated for hand edits.
var linkLineRe = regexp.MustCompile(`^(?:[-*]\s+)?(?:([A-Za-z_]+)\s+)?\[\[([^\]|]+)(?:\|[^\]]*)?\]\](?:\s+(.*))?$`)

// linkStampRe matches the creation stamp Encode appends to a link line.
var linkStampRe = regexp.MustCompile(`\s*<!--\s*created\s+(\S+)\s*-->$`)

// timeLayouts are accepted for created/updated; the first one is written.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FileName returns the file name used for a note id.
func FileName(id string) string {
	return id + FileExtension
}

// Encode renders n in its file form. Header order is fixed; extra metadata
// keys follow in sorted order.
func Encode(n models.Note) ([]byte, error) {
	header := &yaml.Node{Kind: yaml.MappingNode}
	addScalar(header, KeyID, n.ID, "!!str")
	addScalar(header, KeyTitle, n.Title, "!!str")
	addScalar(header, KeyType, string(n.Type), "!!str")

	tags := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, name := range n.Tags.Names() {
		tags.Content = append(tags.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name})
	}
	header.Content = append(header.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: KeyTags}, tags)

	addScalar(header, KeyCreated, formatTime(n.CreatedAt), "")
	addScalar(header, KeyUpdated, formatTime(n.UpdatedAt), "")

	keys := make([]string, 0, len(n.Metadata))
	for k := range n.Metadata {
		if !IsReservedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		addScalar(header, k, n.Metadata[k], "!!str")
	}

	var hdr bytes.Buffer
	enc := yaml.NewEncoder(&hdr)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("codec: encode header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("codec: encode header: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(hdr.Bytes())
	buf.WriteString(delim + "\n\n")
	buf.WriteString(n.Content)
	buf.WriteString("\n\n" + linksHeading + "\n")
	for _, l := range n.Links {
		buf.WriteString(FormatLink(l))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// FormatLink renders one line of the links section. The link's creation
// time rides along as an HTML comment, which Markdown renderers hide.
func FormatLink(l models.Link) string {
	line := fmt.Sprintf("%s [[%s]]", l.Type, l.TargetID)
	if d := singleLine(l.Description); d != "" {
		line += " " + d
	}
	if !l.CreatedAt.IsZero() {
		line += " <!-- created " + formatTime(l.CreatedAt) + " -->"
	}
	return line
}

// Decode parses data read from path. It never touches the file itself.
// CRLF line ends are accepted around the header and the links heading; the
// body is returned byte for byte.
func Decode(data []byte, path string) (*models.Note, error) {
	text := strings.TrimPrefix(string(data), "\ufeff")

	first, rest, hasNL := cutLine(text)
	if first != delim || !hasNL {
		return nil, &apperr.ParseError{Path: path, Field: "header", Err: errors.New("missing header delimiter")}
	}

	var block, after string
	closed := false
	for off := 0; ; {
		line, remainder, nl := cutLine(rest[off:])
		if line == delim {
			block, after, closed = rest[:off], remainder, true
			break
		}
		if !nl {
			break
		}
		off = len(rest) - len(remainder)
	}
	if !closed {
		return nil, &apperr.ParseError{Path: path, Field: "header", Err: errors.New("unclosed header block")}
	}

	n, err := decodeHeader([]byte(strings.ReplaceAll(block, "\r\n", "\n")), path)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(after, "\r\n") {
		after = after[2:]
	} else {
		after = strings.TrimPrefix(after, "\n")
	}
	body, section, hasLinks := splitLinks(after)
	n.Content = body
	if hasLinks {
		links, err := parseLinks(section, n.ID, n.UpdatedAt, path)
		if err != nil {
			return nil, err
		}
		n.Links = links
	}
	return n, nil
}

// cutLine splits off the first line of s. The line is returned without its
// "\n" or "\r\n" terminator; nl reports whether a terminator was found.
func cutLine(s string) (line, rest string, nl bool) {
	i := strings.IndexByte(s, '\n')
	if i < 0 {
		return s, "", false
	}
	return strings.TrimSuffix(s[:i], "\r"), s[i+1:], true
}

func decodeHeader(block []byte, path string) (*models.Note, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, &apperr.ParseError{Path: path, Field: "header", Err: err}
	}
	var mapping *yaml.Node
	switch {
	case doc.Kind == 0:
		mapping = &yaml.Node{Kind: yaml.MappingNode}
	case doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode:
		mapping = doc.Content[0]
	default:
		return nil, &apperr.ParseError{Path: path, Field: "header", Err: errors.New("header is not a mapping")}
	}

	n := &models.Note{}
	var sawID, sawType bool
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, val := mapping.Content[i].Value, mapping.Content[i+1]
		switch key {
		case KeyID:
			s, ok := scalar(val)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, &apperr.ParseError{Path: path, Field: KeyID, Err: errors.New("must be a non-empty string")}
			}
			n.ID, sawID = strings.TrimSpace(s), true
		case KeyTitle:
			s, ok := scalar(val)
			if !ok {
				return nil, &apperr.ParseError{Path: path, Field: KeyTitle, Err: errors.New("must be a string")}
			}
			n.Title = s
		case KeyType:
			s, _ := scalar(val)
			t, err := models.ParseNoteType(strings.TrimSpace(s))
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: KeyType, Err: err}
			}
			n.Type, sawType = t, true
		case KeyTags:
			tags, err := decodeTags(val)
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: KeyTags, Err: err}
			}
			n.Tags = tags
		case KeyCreated, KeyUpdated:
			s, _ := scalar(val)
			t, err := parseTime(s)
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: key, Err: err}
			}
			if key == KeyCreated {
				n.CreatedAt = t
			} else {
				n.UpdatedAt = t
			}
		default:
			s, err := metadataValue(val)
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: key, Err: err}
			}
			if n.Metadata == nil {
				n.Metadata = make(map[string]string)
			}
			n.Metadata[key] = s
		}
	}
	if !sawID {
		return nil, &apperr.ParseError{Path: path, Field: KeyID, Err: errors.New("missing")}
	}
	if !sawType {
		return nil, &apperr.ParseError{Path: path, Field: KeyType, Err: errors.New("missing")}
	}
	return n, nil
}

// splitLinks separates the body from the last "## Links" section.
func splitLinks(s string) (body, section string, ok bool) {
	offset := -1
	for start := 0; start <= len(s); {
		end := strings.IndexByte(s[start:], '\n')
		line := s[start:]
		if end >= 0 {
			line = s[start : start+end]
		}
		if strings.TrimRight(line, " \t\r") == linksHeading {
			offset = start
		}
		if end < 0 {
			break
		}
		start += end + 1
	}
	if offset < 0 {
		return s, "", false
	}

	body = s[:offset]
	// Strip the separator Encode writes, or the CRLF forms an editor may have
	// left; anything else belongs to the body.
	for _, sep := range []string{"\n\n", "\r\n\r\n", "\r\n", "\n"} {
		if strings.HasSuffix(body, sep) {
			body = body[:len(body)-len(sep)]
			break
		}
	}
	section = s[offset+len(linksHeading):]
	if i := strings.IndexByte(section, '\n'); i >= 0 {
		section = section[i+1:]
	} else {
		section = ""
	}
	return body, section, true
}

// parseLinks reads the links section. Lines without a creation stamp take
// fallback, the note's update time.
func parseLinks(section, sourceID string, fallback time.Time, path string) ([]models.Link, error) {
	var links []models.Link
	for _, raw := range strings.Split(section, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		m := linkLineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, &apperr.ParseError{Path: path, Field: "links", Err: fmt.Errorf("malformed link line %q", line)}
		}
		lt := models.LinkReference
		if m[1] != "" {
			t, err := models.ParseLinkType(strings.ToLower(m[1]))
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: "links", Err: err}
			}
			lt = t
		}
		desc, created := strings.TrimSpace(m[3]), fallback
		if loc := linkStampRe.FindStringSubmatchIndex(desc); loc != nil {
			t, err := parseTime(desc[loc[2]:loc[3]])
			if err != nil {
				return nil, &apperr.ParseError{Path: path, Field: "links", Err: err}
			}
			desc, created = strings.TrimSpace(desc[:loc[0]]), t
		}
		links = append(links, models.Link{
			SourceID:    sourceID,
			TargetID:    strings.TrimSpace(m[2]),
			Type:        lt,
			Description: desc,
			CreatedAt:   created,
		})
	}
	return links, nil
}

func decodeTags(val *yaml.Node) (models.TagSet, error) {
	switch val.Kind {
	case yaml.SequenceNode:
		var tags models.TagSet
		for _, item := range val.Content {
			s, ok := scalar(item)
			if !ok {
				return nil, errors.New("tags must be strings")
			}
			tags = tags.Add(s)
		}
		return tags, nil
	case yaml.ScalarNode:
		s, _ := scalar(val)
		return models.NewTagSet(strings.Split(s, ",")...), nil
	default:
		return nil, errors.New("tags must be a list")
	}
}

func metadataValue(val *yaml.Node) (string, error) {
	if s, ok := scalar(val); ok {
		return s, nil
	}
	out, err := yaml.Marshal(val)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// scalar returns the literal value of a scalar node; nulls read as "".
func scalar(n *yaml.Node) (string, bool) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if n.Kind != yaml.ScalarNode {
		return "", false
	}
	if n.ShortTag() == "!!null" {
		return "", true
	}
	return n.Value, true
}

func addScalar(m *yaml.Node, key, value, tag string) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayouts[0])
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
