package contact

import (
	"errors"
	"reflect"
	"testing"
)

func payload(exportDate string, active, deleted []Contact) ImportPayload {
	p := ImportPayload{Contacts: Batches{Active: active, Deleted: deleted}}
	if exportDate != "" {
		p.Metadata = []MetadataItem{{Key: MetaExportDate, Value: exportDate}}
	}
	return p
}

func assertUnique(t *testing.T, s Store) {
	t.Helper()
	if err := s.Validate(); err != nil {
		t.Fatalf("uniqueness violated: %v", err)
	}
}

func TestMergeNewerSendWins(t *testing.T) {
	current := Store{Active: []Contact{{UID: 1, Nation: "NO", Name: "Kari", Email: "kari@example.com"}}}
	p := payload("200", []Contact{{UID: 1, SentDate: 100, SentCount: 1}}, nil)

	got, stats, err := Merge(current, p)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	want := Contact{UID: 1, Nation: "NO", Name: "Kari", Email: "kari@example.com", SentDate: 100, SentCount: 1}
	if len(got.Active) != 1 || got.Active[0] != want {
		t.Errorf("Active = %+v, want [%+v]", got.Active, want)
	}
	if stats.ContactsProcessed != 1 {
		t.Errorf("ContactsProcessed = %d, want 1", stats.ContactsProcessed)
	}
	if stats.ContactsDeleted != 0 {
		t.Errorf("ContactsDeleted = %d, want 0", stats.ContactsDeleted)
	}
	if got.LastImportExportDate != 200 {
		t.Errorf("LastImportExportDate = %d, want 200", got.LastImportExportDate)
	}
}

func TestMergeIdempotent(t *testing.T) {
	current := Store{
		Active: []Contact{
			{UID: 1, Nation: "NO", SentCount: 0},
			{UID: 2, Nation: "FR", SentDate: 500, SentCount: 3},
			{UID: 3, Nation: "GB"},
		},
		Deleted: []Contact{{UID: 9, SentDate: 10, SentCount: 1, DeletedDate: 20}},
	}
	p := payload("200",
		[]Contact{
			{UID: 1, SentDate: 100, SentCount: 1},
			{UID: 2, SentDate: 400, SentCount: 2},
			{UID: 7, SentDate: 50, SentCount: 1},
		},
		[]Contact{
			{UID: 3, SentDate: 0, DeletedDate: 150},
			{UID: 9, SentDate: 5, SentCount: 1, DeletedDate: 15},
			{UID: 11, SentDate: 60, SentCount: 2, DeletedDate: 70},
		},
	)

	once, _, err := Merge(current, p)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	twice, _, err := Merge(once, p)
	if err != nil {
		t.Fatalf("second Merge() error = %v", err)
	}

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("second merge changed state\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if twice.LastImportExportDate != 200 {
		t.Errorf("LastImportExportDate = %d, want 200", twice.LastImportExportDate)
	}
	assertUnique(t, twice)
}

func TestMergeMissingExportDate(t *testing.T) {
	current := Store{Active: []Contact{{UID: 1}}, LastImportExportDate: 7}

	tests := []struct {
		name string
		p    ImportPayload
	}{
		{"no metadata", payload("", []Contact{{UID: 1, SentDate: 100}}, nil)},
		{"empty value", ImportPayload{Metadata: []MetadataItem{{Key: MetaExportDate, Value: ""}}}},
		{"zero value", ImportPayload{Metadata: []MetadataItem{{Key: MetaExportDate, Value: "0"}}}},
		{"garbage value", ImportPayload{Metadata: []MetadataItem{{Key: MetaExportDate, Value: "yesterday"}}}},
		{"other keys only", ImportPayload{Metadata: []MetadataItem{{Key: "source", Value: "x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats, err := Merge(current, tt.p)
			if !errors.Is(err, ErrMissingExportDate) {
				t.Fatalf("Merge() error = %v, want ErrMissingExportDate", err)
			}
			if !reflect.DeepEqual(got, current) {
				t.Errorf("Merge() state = %+v, want unchanged %+v", got, current)
			}
			if stats != (ImportStats{}) {
				t.Errorf("stats = %+v, want zero", stats)
			}
		})
	}
}

func TestMergeDeletedMovesActive(t *testing.T) {
	current := Store{Active: []Contact{
		{UID: 4, Nation: "EU", Name: "A"},
		{UID: 5, Nation: "EU", Name: "Bo", Email: "bo@example.com", Custom1: "x"},
		{UID: 6, Nation: "EU", Name: "C"},
	}}
	p := payload("100", nil, []Contact{{UID: 5, SentDate: 50, SentCount: 2, DeletedDate: 60, Custom1: "y"}})

	got, stats, err := Merge(current, p)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(got.Active) != 2 || got.Active[0].UID != 4 || got.Active[1].UID != 6 {
		t.Errorf("Active = %+v, want uids [4 6]", got.Active)
	}
	if len(got.Deleted) != 1 {
		t.Fatalf("Deleted len = %d, want 1", len(got.Deleted))
	}
	want := Contact{UID: 5, Nation: "EU", Name: "Bo", Email: "bo@example.com", SentDate: 50, SentCount: 2, DeletedDate: 60, Custom1: "y"}
	if got.Deleted[0] != want {
		t.Errorf("Deleted[0] = %+v, want %+v", got.Deleted[0], want)
	}
	if stats.ContactsDeleted != 1 {
		t.Errorf("ContactsDeleted = %d, want 1", stats.ContactsDeleted)
	}
	assertUnique(t, got)
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	current := Store{
		Active:  []Contact{{UID: 1, SentCount: 1, SentDate: 10}, {UID: 2}},
		Deleted: []Contact{{UID: 3, DeletedDate: 5}},
	}
	snapshot := current.Clone()
	p := payload("100",
		[]Contact{{UID: 1, SentDate: 20, SentCount: 4}},
		[]Contact{{UID: 2, DeletedDate: 30}, {UID: 3, SentDate: 40, DeletedDate: 50}},
	)
	pSnapshot := payload("100",
		[]Contact{{UID: 1, SentDate: 20, SentCount: 4}},
		[]Contact{{UID: 2, DeletedDate: 30}, {UID: 3, SentDate: 40, DeletedDate: 50}},
	)

	if _, _, err := Merge(current, p); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if !reflect.DeepEqual(current, snapshot) {
		t.Errorf("current mutated: %+v, want %+v", current, snapshot)
	}
	if !reflect.DeepEqual(p, pSnapshot) {
		t.Errorf("payload mutated: %+v", p)
	}
}

func TestMergeActiveBranches(t *testing.T) {
	tests := []struct {
		name          string
		local         Contact
		imported      Contact
		lastExport    int64
		exportDate    string
		want          Contact
		wantProcessed int
	}{
		{
			name:          "older send in fresh batch accumulates count",
			local:         Contact{UID: 1, SentDate: 300, SentCount: 2, Custom1: "a"},
			imported:      Contact{UID: 1, SentDate: 100, SentCount: 3, Custom1: "b", Custom2: "c"},
			lastExport:    100,
			exportDate:    "200",
			want:          Contact{UID: 1, SentDate: 300, SentCount: 5, Custom1: "b", Custom2: "c"},
			wantProcessed: 1,
		},
		{
			name:          "equal send in fresh batch accumulates count",
			local:         Contact{UID: 1, SentDate: 300, SentCount: 2},
			imported:      Contact{UID: 1, SentDate: 300, SentCount: 1},
			lastExport:    0,
			exportDate:    "200",
			want:          Contact{UID: 1, SentDate: 300, SentCount: 3},
			wantProcessed: 1,
		},
		{
			name:          "stale batch with same export date is ignored",
			local:         Contact{UID: 1, SentDate: 300, SentCount: 2, Custom1: "a"},
			imported:      Contact{UID: 1, SentDate: 100, SentCount: 3, Custom1: "b"},
			lastExport:    200,
			exportDate:    "200",
			want:          Contact{UID: 1, SentDate: 300, SentCount: 2, Custom1: "a"},
			wantProcessed: 1,
		},
		{
			name:          "newer send wins even in stale batch",
			local:         Contact{UID: 1, SentDate: 100, SentCount: 2, DeletedDate: 9},
			imported:      Contact{UID: 1, SentDate: 150, SentCount: 7, Custom2: "z"},
			lastExport:    500,
			exportDate:    "200",
			want:          Contact{UID: 1, SentDate: 150, SentCount: 7, Custom2: "z"},
			wantProcessed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := Store{Active: []Contact{tt.local}, LastImportExportDate: tt.lastExport}
			got, stats, err := Merge(current, payload(tt.exportDate, []Contact{tt.imported}, nil))
			if err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
			if got.Active[0] != tt.want {
				t.Errorf("Active[0] = %+v, want %+v", got.Active[0], tt.want)
			}
			if stats.ContactsProcessed != tt.wantProcessed {
				t.Errorf("ContactsProcessed = %d, want %d", stats.ContactsProcessed, tt.wantProcessed)
			}
		})
	}
}

func TestMergeActiveUnknownBecomesDeleted(t *testing.T) {
	current := Store{Active: []Contact{{UID: 1}}}
	imported := Contact{UID: 8, Nation: "FR", Name: "Zoe", Email: "zoe@example.com", SentDate: 40, SentCount: 2, Custom1: "p", Custom2: "q"}

	got, stats, err := Merge(current, payload("1000", []Contact{imported}, nil))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	want := Contact{UID: 8, SentDate: 40, SentCount: 2, Custom1: "p", Custom2: "q", DeletedDate: 1000}
	if len(got.Deleted) != 1 || got.Deleted[0] != want {
		t.Errorf("Deleted = %+v, want [%+v]", got.Deleted, want)
	}
	if stats.ContactsDeleted != 1 || stats.ContactsProcessed != 0 {
		t.Errorf("stats = %+v, want deleted=1 processed=0", stats)
	}
}

func TestMergeActiveNeverResurrectsDeleted(t *testing.T) {
	local := Contact{UID: 2, SentDate: 10, SentCount: 1, DeletedDate: 20}
	current := Store{Deleted: []Contact{local}}

	got, stats, err := Merge(current, payload("999", []Contact{{UID: 2, SentDate: 500, SentCount: 9}}, nil))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(got.Active) != 0 {
		t.Errorf("Active = %+v, want empty", got.Active)
	}
	if got.Deleted[0] != local {
		t.Errorf("Deleted[0] = %+v, want %+v", got.Deleted[0], local)
	}
	if stats != (ImportStats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}

func TestMergeDeletedBranches(t *testing.T) {
	tests := []struct {
		name       string
		local      Contact
		imported   Contact
		lastExport int64
		want       Contact
	}{
		{
			name:     "newer send adopts deletion record",
			local:    Contact{UID: 3, Name: "kept", SentDate: 10, SentCount: 1, DeletedDate: 20},
			imported: Contact{UID: 3, SentDate: 30, SentCount: 4, DeletedDate: 40, Custom1: "n"},
			want:     Contact{UID: 3, Name: "kept", SentDate: 30, SentCount: 4, DeletedDate: 40, Custom1: "n"},
		},
		{
			name:     "older send before deletion in fresh batch sums count",
			local:    Contact{UID: 3, SentDate: 10, SentCount: 1, DeletedDate: 20},
			imported: Contact{UID: 3, SentDate: 5, SentCount: 2, DeletedDate: 99, Custom2: "m"},
			want:     Contact{UID: 3, SentDate: 10, SentCount: 3, DeletedDate: 20, Custom2: "m"},
		},
		{
			name:       "stale batch leaves record untouched",
			local:      Contact{UID: 3, SentDate: 10, SentCount: 1, DeletedDate: 20},
			imported:   Contact{UID: 3, SentDate: 5, SentCount: 2, DeletedDate: 99},
			lastExport: 100,
			want:       Contact{UID: 3, SentDate: 10, SentCount: 1, DeletedDate: 20},
		},
		{
			name:       "newer send in stale batch still adopts deletion record",
			local:      Contact{UID: 3, SentDate: 10, SentCount: 1, DeletedDate: 20},
			imported:   Contact{UID: 3, SentDate: 30, SentCount: 4, DeletedDate: 40, Custom1: "n"},
			lastExport: 100,
			want:       Contact{UID: 3, SentDate: 30, SentCount: 4, DeletedDate: 40, Custom1: "n"},
		},
		{
			name:     "older send after local deletion date is ignored",
			local:    Contact{UID: 3, SentDate: 30, SentCount: 1, DeletedDate: 20},
			imported: Contact{UID: 3, SentDate: 25, SentCount: 2, DeletedDate: 99},
			want:     Contact{UID: 3, SentDate: 30, SentCount: 1, DeletedDate: 20},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := Store{Deleted: []Contact{tt.local}, LastImportExportDate: tt.lastExport}
			got, stats, err := Merge(current, payload("100", nil, []Contact{tt.imported}))
			if err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
			if got.Deleted[0] != tt.want {
				t.Errorf("Deleted[0] = %+v, want %+v", got.Deleted[0], tt.want)
			}
			if stats.ContactsDeleted != 0 {
				t.Errorf("ContactsDeleted = %d, want 0", stats.ContactsDeleted)
			}
		})
	}
}

func TestMergeDeletedUnknownAppended(t *testing.T) {
	imported := Contact{UID: 12, Name: "dropped", SentDate: 5, SentCount: 1, DeletedDate: 8, Custom1: "c"}
	got, stats, err := Merge(Store{}, payload("10", nil, []Contact{imported}))
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	want := Contact{UID: 12, SentDate: 5, SentCount: 1, DeletedDate: 8, Custom1: "c"}
	if len(got.Deleted) != 1 || got.Deleted[0] != want {
		t.Errorf("Deleted = %+v, want [%+v]", got.Deleted, want)
	}
	if stats.ContactsDeleted != 1 {
		t.Errorf("ContactsDeleted = %d, want 1", stats.ContactsDeleted)
	}
}

func TestMergeHighWaterMark(t *testing.T) {
	tests := []struct {
		before     int64
		exportDate string
		want       int64
	}{
		{0, "200", 200},
		{300, "200", 300},
		{200, "200", 200},
		{100, "2024-01-02T03:04:05Z", 1704164645000},
	}

	for _, tt := range tests {
		got, _, err := Merge(Store{LastImportExportDate: tt.before}, payload(tt.exportDate, nil, nil))
		if err != nil {
			t.Fatalf("Merge(%s) error = %v", tt.exportDate, err)
		}
		if got.LastImportExportDate != tt.want {
			t.Errorf("before=%d export=%s: LastImportExportDate = %d, want %d",
				tt.before, tt.exportDate, got.LastImportExportDate, tt.want)
		}
	}
}

func TestMergeDuplicateUIDsInBatch(t *testing.T) {
	p := payload("50",
		[]Contact{{UID: 1, SentCount: 1}, {UID: 1, SentCount: 2}},
		[]Contact{{UID: 2, DeletedDate: 3}, {UID: 2, DeletedDate: 4}, {UID: 1, DeletedDate: 5}},
	)

	got, stats, err := Merge(Store{Active: []Contact{{UID: 2}}}, p)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	assertUnique(t, got)
	if len(got.Active) != 0 {
		t.Errorf("Active = %+v, want empty", got.Active)
	}
	if len(got.Deleted) != 2 {
		t.Errorf("Deleted len = %d, want 2", len(got.Deleted))
	}
	if stats.ContactsDeleted != 2 {
		t.Errorf("ContactsDeleted = %d, want 2", stats.ContactsDeleted)
	}
}

func TestDeleteContact(t *testing.T) {
	s := Store{
		Active:               []Contact{{UID: 1}, {UID: 2, SentCount: 3}, {UID: 3}},
		LastImportExportDate: 42,
	}

	got, ok := DeleteContact(s, 2, 777)
	if !ok {
		t.Fatal("DeleteContact() ok = false, want true")
	}
	if len(got.Active) != 2 || got.Active[0].UID != 1 || got.Active[1].UID != 3 {
		t.Errorf("Active = %+v, want uids [1 3]", got.Active)
	}
	if len(got.Deleted) != 1 || got.Deleted[0].DeletedDate != 777 || got.Deleted[0].SentCount != 3 {
		t.Errorf("Deleted = %+v", got.Deleted)
	}
	if got.LastImportExportDate != 42 {
		t.Errorf("LastImportExportDate = %d, want 42", got.LastImportExportDate)
	}
	if len(s.Active) != 3 {
		t.Error("DeleteContact() mutated input")
	}

	same, ok := DeleteContact(got, 2, 999)
	if ok {
		t.Error("DeleteContact() on deleted uid ok = true, want false")
	}
	if !reflect.DeepEqual(same, got) {
		t.Error("DeleteContact() on deleted uid changed state")
	}
}

func TestDeletedSentCount(t *testing.T) {
	s := Store{
		Active:  []Contact{{UID: 1, SentCount: 100}},
		Deleted: []Contact{{UID: 2, SentCount: 2}, {UID: 3, SentCount: 5}},
	}
	if got := DeletedSentCount(s); got != 7 {
		t.Errorf("DeletedSentCount() = %d, want 7", got)
	}
}

func TestRecordSent(t *testing.T) {
	s := Store{Active: []Contact{{UID: 1}, {UID: 2, SentCount: 1, SentDate: 5}}}

	got, ok := RecordSent(s, 2, 900)
	if !ok {
		t.Fatal("RecordSent() ok = false")
	}
	if got.Active[1].SentDate != 900 || got.Active[1].SentCount != 2 {
		t.Errorf("Active[1] = %+v, want sd=900 sc=2", got.Active[1])
	}
	if s.Active[1].SentDate != 5 {
		t.Error("RecordSent() mutated input")
	}

	if _, ok := RecordSent(s, 99, 900); ok {
		t.Error("RecordSent() unknown uid ok = true")
	}
}
