package mailparse

import (
	"bytes"
	"html"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"emails-sync/internal/models"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

const (
	DefaultBodyMaxLength = 5000
	DefaultUnknownSender = "unknown"
	DefaultNoSubject     = "no subject"
)

var (
	addressRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	blankRe   = regexp.MustCompile(`\n{3,}`)
)

// Normalizer turns fetched messages into bounded EmailRecords.
// It never fails: anything it cannot read degrades to a sentinel.
type Normalizer struct {
	MaxBodyLength int
	UnknownSender string
	NoSubject     string

	now func() time.Time
}

// NewNormalizer creates a Normalizer, filling unset values with the defaults
func NewNormalizer(cfg models.NormalizeConfig, maxBodyLength int) *Normalizer {
	n := &Normalizer{
		MaxBodyLength: maxBodyLength,
		UnknownSender: cfg.UnknownSender,
		NoSubject:     cfg.NoSubject,
		now:           time.Now,
	}
	if n.MaxBodyLength <= 0 {
		n.MaxBodyLength = DefaultBodyMaxLength
	}
	if strings.TrimSpace(n.UnknownSender) == "" {
		n.UnknownSender = DefaultUnknownSender
	}
	if strings.TrimSpace(n.NoSubject) == "" {
		n.NoSubject = DefaultNoSubject
	}
	return n
}

// parsed holds whatever could be read out of the raw message
type parsed struct {
	from      string
	subject   string
	messageID string
	date      time.Time
	body      string
}

// Normalize converts raw into an EmailRecord with status "new"
func (n *Normalizer) Normalize(raw models.RawMessage) models.EmailRecord {
	p := parse(raw.Raw)

	record := models.EmailRecord{
		ID:         uuid.New().String(),
		MessageKey: p.messageID,
		Sender:     firstNonEmpty(p.from, extractEmailAddress(raw.Sender), n.UnknownSender),
		Subject:    firstNonEmpty(p.subject, decodeOrRaw(raw.Subject), n.NoSubject),
		Body:       Truncate(p.body, n.MaxBodyLength),
		Source:     raw.Source,
		Status:     models.StatusNew,
		ReceivedAt: raw.ArrivedAt,
		CreatedAt:  n.now().UTC(),
	}

	if record.MessageKey == "" {
		record.MessageKey = raw.Source + ":" + raw.Key
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = p.date
	}
	if record.ReceivedAt.IsZero() {
		record.ReceivedAt = record.CreatedAt
	}

	return record
}

func parse(raw []byte) parsed {
	var p parsed
	if len(raw) == 0 {
		return p
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return naiveParse(raw)
	}
	defer func() { _ = mr.Close() }()

	header := mr.Header
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		p.from = from[0].Address
	} else {
		p.from = extractEmailAddress(header.Get("From"))
	}
	if subject, err := header.Subject(); err == nil {
		p.subject = strings.TrimSpace(subject)
	} else {
		p.subject = decodeOrRaw(header.Get("Subject"))
	}
	if id, err := header.MessageID(); err == nil {
		p.messageID = id
	}
	if date, err := header.Date(); err == nil {
		p.date = date
	}

	var text, htmlText string
	var broken bool
	for text == "" {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil && !message.IsUnknownCharset(err) {
			broken = true
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			contentType = "text/plain"
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			text = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlText == "":
			htmlText = StripHTML(string(body))
		}
	}

	p.body = firstNonEmpty(strings.TrimSpace(text), htmlText)
	// headers were fine but the parts were not
	if p.body == "" && broken {
		p.body = naiveParse(raw).body
	}
	return p
}

// naiveParse is the fallback when the message is not valid MIME:
// headers end at the first blank line, everything after is body.
func naiveParse(raw []byte) parsed {
	var p parsed
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")

	head, body, found := strings.Cut(normalized, "\n\n")
	if !found {
		p.body = strings.TrimSpace(normalized)
		return p
	}

	for _, line := range strings.Split(head, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "from":
			p.from = extractEmailAddress(value)
		case "subject":
			p.subject = decodeOrRaw(value)
		}
	}
	p.body = strings.TrimSpace(body)

	return p
}

// Truncate cuts s to at most max runes, replacing invalid UTF-8 first
func Truncate(s string, max int) string {
	s = strings.ToValidUTF8(s, "�")
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}

	i := 0
	for pos := range s {
		if i == max {
			return s[:pos]
		}
		i++
	}
	return s
}

// StripHTML reduces an HTML body to its text content
func StripHTML(s string) string {
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRe.ReplaceAllString(strings.ReplaceAll(s, "\r\n", "\n"), "\n\n")
	return strings.TrimSpace(s)
}

// Simple regex to extract email address from "From" header, which may contain name and email
func extractEmailAddress(fromHeader string) string {
	return addressRe.FindString(fromHeader)
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text
func DecodeHeader(encoded string) (string, error) {
	decoder := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := decoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

func decodeOrRaw(s string) string {
	if decoded, err := DecodeHeader(s); err == nil {
		return strings.TrimSpace(decoded)
	}
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
