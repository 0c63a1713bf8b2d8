package mailparse

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"emails-sync/internal/models"
)

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "Plain ASCII",
			input:    "Hello World",
			expected: "Hello World",
			wantErr:  false,
		},
		{
			name:     "UTF-8 encoded",
			input:    "=?UTF-8?Q?Important_:_comment_mettre_=C3=A0_jour?=",
			expected: "Important : comment mettre à jour",
			wantErr:  false,
		},
		{
			name:     "ISO-8859-1 encoded",
			input:    "=?ISO-8859-1?Q?Caf=E9?=",
			expected: "Café",
			wantErr:  false,
		},
		{
			name:     "Base64 encoded",
			input:    "=?UTF-8?B?SGVsbG8gV29ybGQ=?=",
			expected: "Hello World",
			wantErr:  false,
		},
		{
			name:     "Windows-1252 encoded",
			input:    "=?windows-1252?Q?Pr=E9sentation?=",
			expected: "Présentation",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeHeader() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("DecodeHeader() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExtractEmailAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple email",
			input:    "alerts@bank.example.com",
			expected: "alerts@bank.example.com",
		},
		{
			name:     "Email with name",
			input:    "Bank Alerts <alerts@bank.example.com>",
			expected: "alerts@bank.example.com",
		},
		{
			name:     "Email with quotes",
			input:    `"Support Team" <support@example.org>`,
			expected: "support@example.org",
		},
		{
			name:     "No email",
			input:    "Just some text",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractEmailAddress(tt.input)
			if got != tt.expected {
				t.Errorf("extractEmailAddress() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{name: "Shorter than max", input: "hello", max: 10, expected: "hello"},
		{name: "Exactly max", input: "hello", max: 5, expected: "hello"},
		{name: "ASCII cut", input: "hello world", max: 5, expected: "hello"},
		{name: "Multi-byte cut on rune boundary", input: "àéîõü€", max: 3, expected: "àéî"},
		{name: "Emoji", input: "😀😀😀", max: 2, expected: "😀😀"},
		{name: "Invalid UTF-8 replaced", input: "ab\xffcd", max: 10, expected: "ab�cd"},
		{name: "Zero max keeps everything", input: "abc", max: 0, expected: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.input, tt.max)
			if got != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.expected)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("<html><body><p>Hello&nbsp;<b>there</b> &amp; welcome</p></body></html>")
	if got != "Hello there & welcome" {
		t.Errorf("StripHTML() = %q", got)
	}
}

func newTestNormalizer(maxBody int) *Normalizer {
	n := NewNormalizer(models.NormalizeConfig{}, maxBody)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalize_PlainMessage(t *testing.T) {
	arrived := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	raw := models.RawMessage{
		MessageRef: models.MessageRef{UID: 7, Key: "3:7", ArrivedAt: arrived},
		Source:     models.SourceIMAP,
		Raw: []byte("From: Alice Example <alice@example.com>\r\n" +
			"To: sync@example.com\r\n" +
			"Subject: =?UTF-8?Q?R=C3=A9union?=\r\n" +
			"Message-ID: <abc-123@example.com>\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"See you at noon.\r\n"),
	}

	record := newTestNormalizer(0).Normalize(raw)

	if record.Sender != "alice@example.com" {
		t.Errorf("Sender = %q, want alice@example.com", record.Sender)
	}
	if record.Subject != "Réunion" {
		t.Errorf("Subject = %q, want Réunion", record.Subject)
	}
	if record.Body != "See you at noon." {
		t.Errorf("Body = %q", record.Body)
	}
	if record.MessageKey != "abc-123@example.com" {
		t.Errorf("MessageKey = %q, want abc-123@example.com", record.MessageKey)
	}
	if record.Source != models.SourceIMAP || record.Status != models.StatusNew {
		t.Errorf("Source/Status = %q/%q", record.Source, record.Status)
	}
	if !record.ReceivedAt.Equal(arrived) {
		t.Errorf("ReceivedAt = %v, want %v", record.ReceivedAt, arrived)
	}
	if record.ID == "" {
		t.Error("Expected a generated ID")
	}
}

func TestNormalize_MultipartPrefersPlainText(t *testing.T) {
	raw := models.RawMessage{
		Source: models.SourceIMAP,
		Raw: []byte("From: bob@example.com\r\n" +
			"Subject: Report\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
			"\r\n" +
			"--XYZ\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<p>HTML version</p>\r\n" +
			"--XYZ\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n" +
			"\r\n" +
			"Plain version\r\n" +
			"--XYZ--\r\n"),
	}

	record := newTestNormalizer(0).Normalize(raw)
	if record.Body != "Plain version" {
		t.Errorf("Body = %q, want Plain version", record.Body)
	}
}

func TestNormalize_BrokenMultipartFallsBackToRawBody(t *testing.T) {
	raw := models.RawMessage{
		Source: models.SourceIMAP,
		Raw: []byte("From: bob@example.com\r\n" +
			"Subject: Broken\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
			"\r\n" +
			"The boundary never shows up.\r\n"),
	}

	record := newTestNormalizer(0).Normalize(raw)
	if record.Body != "The boundary never shows up." {
		t.Errorf("Body = %q, want the raw body", record.Body)
	}
	if record.Subject != "Broken" || record.Sender != "bob@example.com" {
		t.Errorf("headers = %q/%q, want them parsed", record.Sender, record.Subject)
	}
}

func TestNormalize_HTMLOnly(t *testing.T) {
	raw := models.RawMessage{
		Source: models.SourceIMAP,
		Raw: []byte("From: bob@example.com\r\n" +
			"Subject: Report\r\n" +
			"Content-Type: text/html; charset=utf-8\r\n" +
			"\r\n" +
			"<div>Only <i>HTML</i></div>\r\n"),
	}

	record := newTestNormalizer(0).Normalize(raw)
	if record.Body != "Only HTML" {
		t.Errorf("Body = %q, want Only HTML", record.Body)
	}
}

func TestNormalize_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawMessage
	}{
		{
			name: "Missing headers",
			raw:  models.RawMessage{Source: models.SourcePOP3, Raw: []byte("X-Other: 1\r\n\r\nbody\r\n")},
		},
		{
			name: "Empty raw",
			raw:  models.RawMessage{Source: models.SourcePOP3},
		},
		{
			name: "Unparseable sender and blank subject",
			raw: models.RawMessage{Source: models.SourceIMAP, Raw: []byte("From: not an address\r\n" +
				"Subject:    \r\n\r\nbody\r\n")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := newTestNormalizer(0).Normalize(tt.raw)
			if record.Sender != DefaultUnknownSender {
				t.Errorf("Sender = %q, want %q", record.Sender, DefaultUnknownSender)
			}
			if record.Subject != DefaultNoSubject {
				t.Errorf("Subject = %q, want %q", record.Subject, DefaultNoSubject)
			}
		})
	}
}

func TestNormalize_ConfiguredSentinels(t *testing.T) {
	n := NewNormalizer(models.NormalizeConfig{UnknownSender: "nobody", NoSubject: "(none)"}, 10)
	record := n.Normalize(models.RawMessage{Raw: []byte("\r\n\r\n")})
	if record.Sender != "nobody" || record.Subject != "(none)" {
		t.Errorf("Sentinels = %q/%q, want nobody/(none)", record.Sender, record.Subject)
	}
}

func TestNormalize_EnvelopeFallback(t *testing.T) {
	raw := models.RawMessage{
		MessageRef: models.MessageRef{Key: "uidl-9", Sender: "Carol <carol@example.net>", Subject: "From envelope"},
		Source:     models.SourcePOP3,
		Raw:        []byte("this is not a mime message at all"),
	}

	record := newTestNormalizer(0).Normalize(raw)
	if record.Sender != "carol@example.net" {
		t.Errorf("Sender = %q, want carol@example.net", record.Sender)
	}
	if record.Subject != "From envelope" {
		t.Errorf("Subject = %q, want From envelope", record.Subject)
	}
	if record.MessageKey != "pop3:uidl-9" {
		t.Errorf("MessageKey = %q, want pop3:uidl-9", record.MessageKey)
	}
	if record.Body != "this is not a mime message at all" {
		t.Errorf("Body = %q", record.Body)
	}
}

func TestNormalize_BodyBoundedInRunes(t *testing.T) {
	body := strings.Repeat("é", DefaultBodyMaxLength+250)
	raw := models.RawMessage{
		Source: models.SourceIMAP,
		Raw: []byte("From: a@example.com\r\nSubject: long\r\n" +
			"Content-Type: text/plain; charset=utf-8\r\n\r\n" + body),
	}

	record := newTestNormalizer(0).Normalize(raw)
	if n := utf8.RuneCountInString(record.Body); n != DefaultBodyMaxLength {
		t.Errorf("Body length = %d runes, want %d", n, DefaultBodyMaxLength)
	}
	if !utf8.ValidString(record.Body) {
		t.Error("Body is not valid UTF-8 after truncation")
	}
}

func TestNaiveParse(t *testing.T) {
	p := naiveParse([]byte("From: Dave <dave@example.com>\nSubject: Hi\n\nline one\n\nline two\n"))
	if p.from != "dave@example.com" || p.subject != "Hi" {
		t.Errorf("naiveParse headers = %q/%q", p.from, p.subject)
	}
	if p.body != "line one\n\nline two" {
		t.Errorf("naiveParse body = %q", p.body)
	}
}
