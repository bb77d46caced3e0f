// Package payload decodes and encodes contact import/export payloads.
package payload

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/iase/mailmerge/internal/contact"
)

// Format of a payload body
type Format string

const (
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat maps a file extension or content type to a Format
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSuffix(s, ".zst")
	switch {
	case strings.HasSuffix(s, "json"):
		return FormatJSON
	case strings.HasSuffix(s, "csv"):
		return FormatCSV
	}
	return FormatAuto
}

// Result is a decoded payload plus per-row problems that did not abort decoding
type Result struct {
	Payload contact.ImportPayload `json:"-"`
	Errors  []string              `json:"errors,omitempty"`
}

// Decode parses a payload. zstd-compressed input is decompressed first and
// FormatAuto sniffs JSON by its leading brace.
func Decode(data []byte, format Format) (*Result, error) {
	return DecodeLimit(data, format, 0)
}

// DecodeLimit is Decode with compressed input allowed to expand to at most
// limit bytes; beyond that it returns ErrTooLarge.
func DecodeLimit(data []byte, format Format, limit int64) (*Result, error) {
	if IsZstd(data) {
		raw, err := DecompressLimit(data, limit)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if format == FormatAuto {
		format = detect(data)
	}

	switch format {
	case FormatJSON:
		var p contact.ImportPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse JSON payload: %w", err)
		}
		return &Result{Payload: p}, nil
	case FormatCSV:
		return DecodeCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported payload format: %s", format)
	}
}

func detect(data []byte) Format {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatCSV
}

// Export builds an import payload carrying the whole store
func Export(s contact.Store, exportDate time.Time) contact.ImportPayload {
	c := s.Clone()
	p := contact.ImportPayload{
		Contacts: contact.Batches{Active: c.Active, Deleted: c.Deleted},
	}
	if p.Contacts.Active == nil {
		p.Contacts.Active = []contact.Contact{}
	}
	if p.Contacts.Deleted == nil {
		p.Contacts.Deleted = []contact.Contact{}
	}
	p.SetMeta(contact.MetaExportDate, strconv.FormatInt(exportDate.UnixMilli(), 10))
	return p
}

// Encode serializes a store as an export payload in the given format,
// optionally zstd-compressed.
func Encode(s contact.Store, exportDate time.Time, format Format, compress bool) ([]byte, error) {
	var data []byte

	switch format {
	case FormatJSON, FormatAuto:
		var err error
		data, err = json.Marshal(Export(s, exportDate))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	case FormatCSV:
		var buf bytes.Buffer
		if err := EncodeCSV(&buf, s, exportDate.UnixMilli()); err != nil {
			return nil, err
		}
		data = buf.Bytes()
	default:
		return nil, fmt.Errorf("unsupported payload format: %s", format)
	}

	if compress {
		return Compress(data)
	}
	return data, nil
}
