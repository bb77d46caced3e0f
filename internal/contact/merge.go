package contact

import "errors"

// ErrMissingExportDate is returned when an import payload carries no usable exportDate
var ErrMissingExportDate = errors.New("invalid import: no export date found")

// ImportStats summarizes a merge
type ImportStats struct {
	ContactsProcessed int `json:"contacts_processed"`
	ContactsDeleted   int `json:"contacts_deleted"`
}

// merger tracks the working copy of both partitions during a merge.
// Removed active entries are tombstoned and compacted at the end so that
// indexes stay stable while passes run.
type merger struct {
	active     []Contact
	deleted    []Contact
	removed    []bool
	activeIdx  map[int64]int
	deletedIdx map[int64]int
}

func newMerger(s Store) *merger {
	m := &merger{
		active:     append([]Contact(nil), s.Active...),
		deleted:    append([]Contact(nil), s.Deleted...),
		removed:    make([]bool, len(s.Active)),
		activeIdx:  make(map[int64]int, len(s.Active)),
		deletedIdx: make(map[int64]int, len(s.Deleted)),
	}
	for i, c := range m.active {
		if _, ok := m.activeIdx[c.UID]; !ok {
			m.activeIdx[c.UID] = i
		}
	}
	for i, c := range m.deleted {
		if _, ok := m.deletedIdx[c.UID]; !ok {
			m.deletedIdx[c.UID] = i
		}
	}
	return m
}

func (m *merger) appendDeleted(c Contact) {
	m.deletedIdx[c.UID] = len(m.deleted)
	m.deleted = append(m.deleted, c)
}

func (m *merger) removeActive(i int) {
	m.removed[i] = true
	delete(m.activeIdx, m.active[i].UID)
}

func (m *merger) activeList() []Contact {
	out := make([]Contact, 0, len(m.active))
	for i, c := range m.active {
		if !m.removed[i] {
			out = append(out, c)
		}
	}
	return out
}

// tombstone builds a deleted record that carries only sending state
func tombstone(src Contact, deletedDate int64) Contact {
	return Contact{
		UID:         src.UID,
		SentDate:    src.SentDate,
		SentCount:   src.SentCount,
		Custom1:     src.Custom1,
		Custom2:     src.Custom2,
		DeletedDate: deletedDate,
	}
}

// Merge applies an import payload to the current store and returns the new store.
// Neither argument is modified. When the payload has no export date the current
// store is returned unchanged together with ErrMissingExportDate.
func Merge(current Store, payload ImportPayload) (Store, ImportStats, error) {
	var stats ImportStats

	exportDate, err := payload.ExportDate()
	if err != nil {
		return current, stats, err
	}
	fresh := exportDate > current.LastImportExportDate

	m := newMerger(current)

	for _, imp := range payload.Contacts.Active {
		if i, ok := m.activeIdx[imp.UID]; ok {
			stats.ContactsProcessed++
			local := &m.active[i]

			switch {
			case imp.SentDate > local.SentDate:
				local.SentDate = imp.SentDate
				local.SentCount = imp.SentCount
				local.DeletedDate = 0
				local.Custom1 = imp.Custom1
				local.Custom2 = imp.Custom2
			case fresh:
				local.SentCount += imp.SentCount
				local.Custom1 = imp.Custom1
				local.Custom2 = imp.Custom2
			}
			continue
		}

		if _, ok := m.deletedIdx[imp.UID]; ok {
			// deleted locally, never resurrected by an active record
			continue
		}

		m.appendDeleted(tombstone(imp, exportDate))
		stats.ContactsDeleted++
	}

	for _, imp := range payload.Contacts.Deleted {
		if i, ok := m.activeIdx[imp.UID]; ok {
			moved := m.active[i]
			moved.SentDate = imp.SentDate
			moved.SentCount = imp.SentCount
			moved.DeletedDate = imp.DeletedDate
			moved.Custom1 = imp.Custom1
			moved.Custom2 = imp.Custom2

			m.removeActive(i)
			m.appendDeleted(moved)
			stats.ContactsDeleted++
			continue
		}

		if i, ok := m.deletedIdx[imp.UID]; ok {
			local := &m.deleted[i]

			switch {
			case imp.SentDate > local.SentDate:
				local.SentDate = imp.SentDate
				local.SentCount = imp.SentCount
				local.DeletedDate = imp.DeletedDate
				local.Custom1 = imp.Custom1
				local.Custom2 = imp.Custom2
			case imp.SentDate <= local.DeletedDate && fresh:
				local.SentCount += imp.SentCount
				local.Custom1 = imp.Custom1
				local.Custom2 = imp.Custom2
			}
			continue
		}

		m.appendDeleted(tombstone(imp, imp.DeletedDate))
		stats.ContactsDeleted++
	}

	last := current.LastImportExportDate
	if exportDate > last {
		last = exportDate
	}

	return Store{
		Active:               m.activeList(),
		Deleted:              m.deleted,
		LastImportExportDate: last,
	}, stats, nil
}

// DeleteContact moves an active contact to the deleted partition.
// Unknown or already deleted uids leave the store unchanged.
func DeleteContact(s Store, uid int64, deletedAt int64) (Store, bool) {
	idx := -1
	for i, c := range s.Active {
		if c.UID == uid {
			idx = i
			break
		}
	}
	if idx == -1 {
		return s, false
	}

	removed := s.Active[idx]
	removed.DeletedDate = deletedAt

	active := make([]Contact, 0, len(s.Active)-1)
	active = append(active, s.Active[:idx]...)
	active = append(active, s.Active[idx+1:]...)

	deleted := make([]Contact, 0, len(s.Deleted)+1)
	deleted = append(deleted, s.Deleted...)
	deleted = append(deleted, removed)

	return Store{Active: active, Deleted: deleted, LastImportExportDate: s.LastImportExportDate}, true
}

// DeletedSentCount sums the sent counts of deleted contacts
func DeletedSentCount(s Store) int {
	total := 0
	for _, c := range s.Deleted {
		total += c.SentCount
	}
	return total
}

// RecordSent marks an active contact as emailed at sentAt
func RecordSent(s Store, uid int64, sentAt int64) (Store, bool) {
	for i, c := range s.Active {
		if c.UID != uid {
			continue
		}
		out := s.Clone()
		out.Active[i].SentDate = sentAt
		out.Active[i].SentCount = c.SentCount + 1
		return out, true
	}
	return s, false
}
