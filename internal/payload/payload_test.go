package payload

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/iase/mailmerge/internal/contact"
)

func TestDecodeJSON(t *testing.T) {
	data := []byte(`{
		"contacts": {
			"active": [{"uid": 1, "na": "NO", "n": "Kari", "e": "kari@example.com", "sd": 0, "sc": 0}],
			"deleted": [{"uid": 2, "sd": 10, "sc": 1, "dd": 20}]
		},
		"metadata": [{"key": "exportDate", "value": 1700000000000}]
	}`)

	res, err := Decode(data, FormatAuto)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p := res.Payload
	if len(p.Contacts.Active) != 1 || p.Contacts.Active[0].Email != "kari@example.com" {
		t.Errorf("Active = %+v", p.Contacts.Active)
	}
	if len(p.Contacts.Deleted) != 1 || p.Contacts.Deleted[0].DeletedDate != 20 {
		t.Errorf("Deleted = %+v", p.Contacts.Deleted)
	}
	if d, err := p.ExportDate(); err != nil || d != 1700000000000 {
		t.Errorf("ExportDate() = %d, %v", d, err)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := Decode([]byte(`{"contacts": [`), FormatJSON); err == nil {
		t.Error("Decode() expected error for truncated JSON")
	}
}

func TestDecodeCSV(t *testing.T) {
	data := "#exportDate,1700000000000\n" +
		"#source,crm\n" +
		"UID,Nation,Institution,Name,Email,sentDate,sentCount,cf1,cf2,deletedDate\n" +
		"1,NO,UiO,Kari,kari@example.com,0,0,a,b,0\n" +
		"2,FR,,Jean,jean@example.com,100,2,,,\n" +
		"3,GB,,,,50,1,,,60\n" +
		"x,GB,,,,0,0,,,\n" +
		"4,GB,,,,abc,0,,,\n"

	res, err := Decode([]byte(data), FormatAuto)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	p := res.Payload
	if v, _ := p.Meta("source"); v != "crm" {
		t.Errorf("Meta(source) = %q, want crm", v)
	}
	if d, err := p.ExportDate(); err != nil || d != 1700000000000 {
		t.Errorf("ExportDate() = %d, %v", d, err)
	}
	if len(p.Contacts.Active) != 2 {
		t.Fatalf("Active len = %d, want 2", len(p.Contacts.Active))
	}
	want := contact.Contact{UID: 1, Nation: "NO", Institution: "UiO", Name: "Kari", Email: "kari@example.com", Custom1: "a", Custom2: "b"}
	if p.Contacts.Active[0] != want {
		t.Errorf("Active[0] = %+v, want %+v", p.Contacts.Active[0], want)
	}
	if p.Contacts.Active[1].SentDate != 100 || p.Contacts.Active[1].SentCount != 2 {
		t.Errorf("Active[1] = %+v", p.Contacts.Active[1])
	}
	if len(p.Contacts.Deleted) != 1 || p.Contacts.Deleted[0].UID != 3 {
		t.Errorf("Deleted = %+v, want uid 3", p.Contacts.Deleted)
	}
	if len(res.Errors) != 2 {
		t.Errorf("Errors = %v, want 2 entries", res.Errors)
	}
}

func TestDecodeCSVMissingUIDColumn(t *testing.T) {
	if _, err := Decode([]byte("name,email\nKari,kari@example.com\n"), FormatCSV); err == nil {
		t.Error("Decode() expected error without uid column")
	}
}

func TestDecodeCSVEmpty(t *testing.T) {
	if _, err := Decode([]byte("#exportDate,5\n"), FormatCSV); err == nil {
		t.Error("Decode() expected error without header row")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	s := contact.Store{
		Active:  []contact.Contact{{UID: 1, Nation: "NO", Name: "Kari, Nordmann", Email: "kari@example.com", SentDate: 5, SentCount: 1}},
		Deleted: []contact.Contact{{UID: 2, SentDate: 3, SentCount: 1, DeletedDate: 9}},
	}
	exportAt := time.UnixMilli(1700000000123)

	for _, format := range []Format{FormatJSON, FormatCSV} {
		for _, compress := range []bool{false, true} {
			data, err := Encode(s, exportAt, format, compress)
			if err != nil {
				t.Fatalf("Encode(%s, %v) error = %v", format, compress, err)
			}
			if IsZstd(data) != compress {
				t.Errorf("Encode(%s, %v) IsZstd = %v", format, compress, IsZstd(data))
			}

			res, err := Decode(data, FormatAuto)
			if err != nil {
				t.Fatalf("Decode(%s, %v) error = %v", format, compress, err)
			}
			p := res.Payload
			if d, err := p.ExportDate(); err != nil || d != 1700000000123 {
				t.Errorf("%s/%v: ExportDate() = %d, %v", format, compress, d, err)
			}
			if len(p.Contacts.Active) != 1 || p.Contacts.Active[0] != s.Active[0] {
				t.Errorf("%s/%v: Active = %+v", format, compress, p.Contacts.Active)
			}
			if len(p.Contacts.Deleted) != 1 || p.Contacts.Deleted[0] != s.Deleted[0] {
				t.Errorf("%s/%v: Deleted = %+v", format, compress, p.Contacts.Deleted)
			}
		}
	}
}

func TestExportIsMergeable(t *testing.T) {
	s := contact.Store{Active: []contact.Contact{{UID: 1, SentDate: 10, SentCount: 1}}}
	p := Export(s, time.UnixMilli(500))

	merged, _, err := contact.Merge(contact.Store{Active: []contact.Contact{{UID: 1}}}, p)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if merged.Active[0].SentCount != 1 || merged.LastImportExportDate != 500 {
		t.Errorf("merged = %+v", merged)
	}
}

func TestZstdCompression(t *testing.T) {
	z, err := NewZstdCompressor()
	if err != nil {
		t.Fatalf("NewZstdCompressor() error = %v", err)
	}
	defer z.Close()

	in := bytes.Repeat([]byte("contact "), 1000)
	packed := z.Compress(in)
	if !IsZstd(packed) {
		t.Fatal("Compress() output lacks zstd magic")
	}
	if len(packed) >= len(in) {
		t.Errorf("Compress() len = %d, want < %d", len(packed), len(in))
	}
	out, err := z.Decompress(packed)
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Error("Decompress() did not restore input")
	}

	if _, err := z.Decompress(append([]byte{}, zstdMagic...)); err == nil {
		t.Error("Decompress() expected error for truncated frame")
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		".json":                    FormatJSON,
		"application/json":         FormatJSON,
		"contacts.csv":             FormatCSV,
		"text/csv":                 FormatCSV,
		"contacts.json.zst":        FormatJSON,
		"application/octet-stream": FormatAuto,
	}
	for in, want := range tests {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectSkipsWhitespace(t *testing.T) {
	if got := detect([]byte("\n  {\"contacts\":{}}")); got != FormatJSON {
		t.Errorf("detect() = %q, want json", got)
	}
	if got := detect([]byte(strings.Repeat(" ", 3) + "uid,na")); got != FormatCSV {
		t.Errorf("detect() = %q, want csv", got)
	}
}

func TestDecompressLimit(t *testing.T) {
	in := bytes.Repeat([]byte("\n"), 4<<20)
	packed, err := Compress(in)
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if len(packed) > 64<<10 {
		t.Fatalf("Compress() len = %d, expected a small frame", len(packed))
	}

	tests := []struct {
		name    string
		limit   int64
		wantErr error
	}{
		{"no limit", 0, nil},
		{"limit above size", 8 << 20, nil},
		{"exact size", 4 << 20, nil},
		{"limit below size", 1 << 20, ErrTooLarge},
		{"tiny limit", 16, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DecompressLimit(packed, tt.limit)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecompressLimit() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecompressLimit() error = %v", err)
			}
			if len(out) != len(in) {
				t.Errorf("DecompressLimit() len = %d, want %d", len(out), len(in))
			}
		})
	}

	if _, err := DecodeLimit(packed, FormatCSV, 1<<20); !errors.Is(err, ErrTooLarge) {
		t.Errorf("DecodeLimit() error = %v, want ErrTooLarge", err)
	}
}

func TestDecompressCeiling(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates the full ceiling")
	}
	packed, err := Compress(bytes.Repeat([]byte("\n"), MaxDecodedSize+4))
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if _, err := Decompress(packed); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Decompress() error = %v, want ErrTooLarge", err)
	}
}
