package provider

import (
	"bytes"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mikey/mail-triage/internal/utils"
)

// DefaultBodyLimit caps extracted body text, in characters
const DefaultBodyLimit = 5000

// Part is a provider-neutral MIME tree node with decoded content
type Part struct {
	MimeType string
	Filename string
	Body     string
	Parts    []Part
}

// Content is the text extracted from a message
type Content struct {
	Subject        string
	From           string
	To             []string
	Date           time.Time
	Text           string
	HasAttachments bool
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]*>`)
)

var limiter = utils.NewTextProcessor(nil)

// ExtractBody walks the tree depth first. The first non-empty text/plain part wins; otherwise the
// first HTML part is stripped to text. The result is capped at limit characters.
func ExtractBody(root Part, limit int) string {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	if text := findPart(root, "text/plain"); text != "" {
		return limiter.LimitChars(strings.TrimSpace(text), limit)
	}
	if markup := findPart(root, "text/html"); markup != "" {
		return limiter.LimitChars(StripHTML(markup), limit)
	}
	return ""
}

// HasAttachments reports whether any part carries a filename
func HasAttachments(root Part) bool {
	if root.Filename != "" {
		return true
	}
	for _, p := range root.Parts {
		if HasAttachments(p) {
			return true
		}
	}
	return false
}

func findPart(p Part, mimeType string) string {
	if strings.HasPrefix(strings.ToLower(p.MimeType), mimeType) && p.Filename == "" && strings.TrimSpace(p.Body) != "" {
		return p.Body
	}
	for _, child := range p.Parts {
		if found := findPart(child, mimeType); found != "" {
			return found
		}
	}
	return ""
}

// StripHTML drops script and style blocks and tags, unescapes entities and collapses whitespace
func StripHTML(s string) string {
	s = scriptBlock.ReplaceAllString(s, " ")
	s = styleBlock.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	return utils.CollapseWhitespace(html.UnescapeString(s))
}

// ParseMIME parses a raw RFC 5322 message into a part tree and extracts its text.
// Unparseable input is treated as plain text.
func ParseMIME(raw []byte, limit int) (*Content, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return &Content{Text: limiter.LimitChars(strings.TrimSpace(string(raw)), limitOrDefault(limit))}, nil
	}
	defer mr.Close()

	content := &Content{}
	if subject, err := mr.Header.Subject(); err == nil {
		content.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		content.From = from[0].String()
	}
	if to, err := mr.Header.AddressList("To"); err == nil {
		for _, a := range to {
			content.To = append(content.To, a.Address)
		}
	}
	if date, err := mr.Header.Date(); err == nil {
		content.Date = date
	}

	root := Part{MimeType: "multipart/mixed"}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			root.Parts = append(root.Parts, Part{MimeType: contentType, Body: string(body)})
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			if filename == "" {
				filename = "attachment"
			}
			root.Parts = append(root.Parts, Part{MimeType: contentType, Filename: filename})
		}
	}

	content.Text = ExtractBody(root, limit)
	content.HasAttachments = HasAttachments(root)
	return content, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultBodyLimit
	}
	return limit
}
