package payload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/iase/mailmerge/internal/contact"
)

// column indices of a contact CSV, -1 when absent
type csvColumns struct {
	uid, nation, institution, name, email, sd, sc, cf1, cf2, dd int
}

func mapColumns(header []string) (csvColumns, error) {
	cols := csvColumns{-1, -1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, col := range header {
		col = strings.ToLower(strings.TrimSpace(col))
		switch col {
		case "uid", "id":
			cols.uid = i
		case "nation", "na":
			cols.nation = i
		case "institution", "i":
			cols.institution = i
		case "name", "n":
			cols.name = i
		case "email", "e", "e-mail":
			cols.email = i
		case "sd", "sentdate", "sent_date":
			cols.sd = i
		case "sc", "sentcount", "sent_count":
			cols.sc = i
		case "cf1", "custom1":
			cols.cf1 = i
		case "cf2", "custom2":
			cols.cf2 = i
		case "dd", "deleteddate", "deleted_date":
			cols.dd = i
		}
	}
	if cols.uid == -1 {
		return cols, fmt.Errorf("uid column not found in CSV")
	}
	return cols, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func intField(record []string, idx int, name string) (int64, error) {
	v := field(record, idx)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func parseRecord(record []string, cols csvColumns) (contact.Contact, error) {
	uid, err := intField(record, cols.uid, "uid")
	if err != nil {
		return contact.Contact{}, err
	}
	if field(record, cols.uid) == "" {
		return contact.Contact{}, errors.New("missing uid")
	}
	sd, err := intField(record, cols.sd, "sd")
	if err != nil {
		return contact.Contact{}, err
	}
	sc, err := intField(record, cols.sc, "sc")
	if err != nil {
		return contact.Contact{}, err
	}
	dd, err := intField(record, cols.dd, "dd")
	if err != nil {
		return contact.Contact{}, err
	}

	return contact.Contact{
		UID:         uid,
		Nation:      field(record, cols.nation),
		Institution: field(record, cols.institution),
		Name:        field(record, cols.name),
		Email:       field(record, cols.email),
		SentDate:    sd,
		SentCount:   int(sc),
		Custom1:     field(record, cols.cf1),
		Custom2:     field(record, cols.cf2),
		DeletedDate: dd,
	}, nil
}

// DecodeCSV reads a contact CSV. Leading rows whose first cell starts with '#'
// are metadata ("#exportDate,1700000000000"). Rows with a deleted date go to the
// deleted batch. Malformed rows are skipped and reported in the result.
func DecodeCSV(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	res := &Result{}

	var header []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, fmt.Errorf("failed to read CSV header: no header row")
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
		if len(record) > 0 && strings.HasPrefix(strings.TrimSpace(record[0]), "#") {
			key := strings.TrimPrefix(strings.TrimSpace(record[0]), "#")
			res.Payload.SetMeta(key, field(record, 1))
			continue
		}
		header = record
		break
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		c, err := parseRecord(record, cols)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", row, err))
			continue
		}

		if c.DeletedDate > 0 {
			res.Payload.Contacts.Deleted = append(res.Payload.Contacts.Deleted, c)
		} else {
			res.Payload.Contacts.Active = append(res.Payload.Contacts.Active, c)
		}
	}

	return res, nil
}

// EncodeCSV writes a store as CSV with an exportDate metadata row
func EncodeCSV(w io.Writer, s contact.Store, exportDate int64) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"#" + contact.MetaExportDate, strconv.FormatInt(exportDate, 10)},
		{"uid", "na", "i", "n", "e", "sd", "sc", "cf1", "cf2", "dd"},
	}
	for _, part := range [][]contact.Contact{s.Active, s.Deleted} {
		for _, c := range part {
			rows = append(rows, []string{
				strconv.FormatInt(c.UID, 10),
				c.Nation,
				c.Institution,
				c.Name,
				c.Email,
				strconv.FormatInt(c.SentDate, 10),
				strconv.Itoa(c.SentCount),
				c.Custom1,
				c.Custom2,
				strconv.FormatInt(c.DeletedDate, 10),
			})
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
