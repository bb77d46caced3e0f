package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/iase/mailmerge/internal/email"
)

// Mailer delivers a rendered message to one contact
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Message is a rendered email addressed to a single contact
type Message struct {
	ID        string // Message-ID without angle brackets, generated by Build when empty
	From      string
	FromName  string
	ReplyTo   string
	To        string
	ToName    string
	Subject   string
	Text      string
	HTML      string
	UID       int64
	SessionID string
}

// Validate checks the addressing fields
func (m *Message) Validate() error {
	if m.From == "" {
		return fmt.Errorf("sender address is required")
	}
	if m.To == "" {
		return fmt.Errorf("recipient address is required")
	}
	if m.Text == "" && m.HTML == "" {
		return fmt.Errorf("message body is empty")
	}
	return nil
}

// Build renders the message as RFC 5322 MIME. A message with both bodies
// becomes multipart/alternative.
func (m *Message) Build() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if m.ID == "" {
		m.ID = fmt.Sprintf("%s@%s", uuid.New().String(), email.DomainOr(m.From, "localhost"))
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Name: m.FromName, Address: m.From}})
	h.SetAddressList("To", []*mail.Address{{Name: m.ToName, Address: m.To}})
	if m.ReplyTo != "" {
		h.SetAddressList("Reply-To", []*mail.Address{{Address: m.ReplyTo}})
	}
	h.SetSubject(m.Subject)
	h.SetMessageID(m.ID)

	var buf bytes.Buffer

	if m.Text != "" && m.HTML != "" {
		mw, err := mail.CreateWriter(&buf, h)
		if err != nil {
			return nil, fmt.Errorf("failed to create message writer: %w", err)
		}
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("failed to create inline writer: %w", err)
		}
		if err := writePart(iw, "text/plain", m.Text); err != nil {
			return nil, err
		}
		if err := writePart(iw, "text/html", m.HTML); err != nil {
			return nil, err
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close inline writer: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to close message writer: %w", err)
		}
		return buf.Bytes(), nil
	}

	contentType, body := "text/plain", m.Text
	if m.HTML != "" {
		contentType, body = "text/html", m.HTML
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(iw *mail.InlineWriter, contentType, body string) error {
	var ph mail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}
