package contact

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// MetaExportDate is the metadata key carrying the export timestamp of a payload
const MetaExportDate = "exportDate"

// Contact is a single mailing contact and its sending state.
// Timestamps are unix milliseconds; zero means unset.
type Contact struct {
	UID         int64  `json:"uid"`
	Nation      string `json:"na"`
	Institution string `json:"i"`
	Name        string `json:"n"`
	Email       string `json:"e"`
	SentDate    int64  `json:"sd"`
	SentCount   int    `json:"sc"`
	Custom1     string `json:"cf1"`
	Custom2     string `json:"cf2"`
	DeletedDate int64  `json:"dd"`
}

// IsSent reports whether the contact was emailed at least once
func (c Contact) IsSent() bool {
	return c.SentDate != 0
}

// Store holds the active and deleted partitions plus the high-water mark
// of the last applied import.
type Store struct {
	Active               []Contact `json:"active"`
	Deleted              []Contact `json:"deleted"`
	LastImportExportDate int64     `json:"lastImportExportDate"`
}

// Clone returns a deep copy of the store
func (s Store) Clone() Store {
	return Store{
		Active:               append([]Contact(nil), s.Active...),
		Deleted:              append([]Contact(nil), s.Deleted...),
		LastImportExportDate: s.LastImportExportDate,
	}
}

// Validate checks that every uid appears exactly once across both partitions
func (s Store) Validate() error {
	seen := make(map[int64]string, len(s.Active)+len(s.Deleted))
	for _, c := range s.Active {
		if where, ok := seen[c.UID]; ok {
			return fmt.Errorf("uid %d duplicated (active, already in %s)", c.UID, where)
		}
		seen[c.UID] = "active"
	}
	for _, c := range s.Deleted {
		if where, ok := seen[c.UID]; ok {
			return fmt.Errorf("uid %d duplicated (deleted, already in %s)", c.UID, where)
		}
		seen[c.UID] = "deleted"
	}
	return nil
}

// Nations returns the sorted distinct nations of active contacts
func (s Store) Nations() []string {
	set := make(map[string]struct{})
	for _, c := range s.Active {
		if c.Nation != "" {
			set[c.Nation] = struct{}{}
		}
	}
	nations := make([]string, 0, len(set))
	for n := range set {
		nations = append(nations, n)
	}
	sort.Strings(nations)
	return nations
}

// Find returns the active contact with the given uid
func (s Store) Find(uid int64) (Contact, bool) {
	for _, c := range s.Active {
		if c.UID == uid {
			return c, true
		}
	}
	return Contact{}, false
}

// MetadataItem is a key/value pair attached to an import payload
type MetadataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts both string and number values
func (m *MetadataItem) UnmarshalJSON(data []byte) error {
	var raw struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Key = raw.Key
	m.Value = ""

	v := strings.TrimSpace(string(raw.Value))
	if v == "" || v == "null" {
		return nil
	}
	if strings.HasPrefix(v, `"`) {
		return json.Unmarshal(raw.Value, &m.Value)
	}
	m.Value = v
	return nil
}

// Batches groups imported contacts by partition
type Batches struct {
	Active  []Contact `json:"active"`
	Deleted []Contact `json:"deleted"`
}

// ImportPayload is a batch of contacts produced by an upstream export
type ImportPayload struct {
	Contacts Batches        `json:"contacts"`
	Metadata []MetadataItem `json:"metadata"`
}

// Meta returns the metadata value for key
func (p ImportPayload) Meta(key string) (string, bool) {
	for _, item := range p.Metadata {
		if item.Key == key {
			return item.Value, true
		}
	}
	return "", false
}

// ExportDate returns the export timestamp in unix milliseconds.
// Values may be integer milliseconds or RFC 3339 timestamps.
func (p ImportPayload) ExportDate() (int64, error) {
	v, ok := p.Meta(MetaExportDate)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return 0, ErrMissingExportDate
	}

	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms <= 0 {
			return 0, ErrMissingExportDate
		}
		return ms, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return int64(f), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UnixMilli(), nil
	}

	return 0, fmt.Errorf("%w: unparsable value %q", ErrMissingExportDate, v)
}

// SetMeta sets or replaces a metadata entry
func (p *ImportPayload) SetMeta(key, value string) {
	for i := range p.Metadata {
		if p.Metadata[i].Key == key {
			p.Metadata[i].Value = value
			return
		}
	}
	p.Metadata = append(p.Metadata, MetadataItem{Key: key, Value: value})
}
