package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBodyPrefersFirstPlainPart(t *testing.T) {
	root := Part{
		MimeType: "multipart/mixed",
		Parts: []Part{
			{MimeType: "multipart/alternative", Parts: []Part{
				{MimeType: "text/plain", Body: "   "},
				{MimeType: "text/html", Body: "<p>html</p>"},
			}},
			{MimeType: "text/plain; charset=utf-8", Body: "plain text wins"},
			{MimeType: "text/plain", Body: "second plain"},
		},
	}

	assert.Equal(t, "plain text wins", ExtractBody(root, 0))
}

func TestExtractBodyFallsBackToStrippedHTML(t *testing.T) {
	root := Part{MimeType: "multipart/alternative", Parts: []Part{
		{MimeType: "text/html", Body: `<html><head><style>p{color:red}</style><script>alert(1)</script></head>
<body><p>Hello&nbsp;<b>there</b></p>
<div>Bye</div></body></html>`},
	}}

	assert.Equal(t, "Hello there Bye", ExtractBody(root, 0))
}

func TestExtractBodyCapsLength(t *testing.T) {
	root := Part{MimeType: "text/plain", Body: strings.Repeat("é", 6000)}

	body := ExtractBody(root, 0)
	assert.Equal(t, DefaultBodyLimit, len([]rune(body)))
}

func TestExtractBodyIgnoresAttachments(t *testing.T) {
	root := Part{Parts: []Part{
		{MimeType: "text/plain", Filename: "notes.txt", Body: "attached"},
	}}

	assert.Empty(t, ExtractBody(root, 0))
	assert.True(t, HasAttachments(root))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a b & c", StripHTML("<SCRIPT type=x>var a;</SCRIPT>a <i>b</i> &amp; c"))
}

func TestParseMIME(t *testing.T) {
	raw := strings.Join([]string{
		"From: Alerts <alerts@company.com>",
		"To: me@example.com",
		"Subject: Server down",
		"Date: Mon, 02 Mar 2026 09:30:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>Critical <b>server</b> alert</p>",
		"--b1",
		`Content-Type: application/pdf`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"JVBERi0=",
		"--b1--",
		"",
	}, "\r\n")

	content, err := ParseMIME([]byte(raw), 0)
	require.NoError(t, err)
	assert.Equal(t, "Server down", content.Subject)
	assert.Contains(t, content.From, "alerts@company.com")
	assert.Equal(t, []string{"me@example.com"}, content.To)
	assert.Equal(t, 9, content.Date.UTC().Hour())
	assert.Equal(t, "Critical server alert", content.Text)
	assert.True(t, content.HasAttachments)
}
