// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/omahs/zupass/internal/pipeline/model"
)

// csvColumns maps lower-cased header names to TicketAtom fields.
var csvColumns = map[string]func(*model.TicketAtom, string){
	"id":        func(t *model.TicketAtom, v string) { t.ID = v },
	"email":     func(t *model.TicketAtom, v string) { t.Email = v },
	"name":      func(t *model.TicketAtom, v string) { t.Name = v },
	"eventid":   func(t *model.TicketAtom, v string) { t.EventID = v },
	"productid": func(t *model.TicketAtom, v string) { t.ProductID = v },
}

// parseCSVAtoms turns inline CSV into ticket atoms. The first record is the
// header; unknown columns are ignored and an email column is required.
// Rows without an email are returned as warnings. Rows without an id get
// "row-N", N being the 1-based data row number.
func parseCSVAtoms(pipelineID, data string) ([]model.Atom, []string, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return []model.Atom{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("csv header: %w", err)
	}
	setters := make([]func(*model.TicketAtom, string), len(header))
	hasEmail := false
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		setters[i] = csvColumns[key]
		hasEmail = hasEmail || key == "email"
	}
	if !hasEmail {
		return nil, nil, errors.New("csv header: missing email column")
	}

	var (
		out      []model.Atom
		warnings []string
		seen     = make(map[string]struct{})
	)
	for row := 1; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		var t model.TicketAtom
		for i, v := range record {
			if i < len(setters) && setters[i] != nil {
				setters[i](&t, strings.TrimSpace(v))
			}
		}
		if t.Email == "" {
			warnings = append(warnings, fmt.Sprintf("csv row %d: no email", row))
			continue
		}
		if t.ID == "" {
			t.ID = "row-" + strconv.Itoa(row)
		}
		if _, dup := seen[t.ID]; dup {
			warnings = append(warnings, fmt.Sprintf("csv row %d: duplicate id %s", row, t.ID))
			continue
		}
		seen[t.ID] = struct{}{}
		atom, err := model.NewTicketAtom(pipelineID, t)
		if err != nil {
			return nil, nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		out = append(out, atom)
	}
	if out == nil {
		out = []model.Atom{}
	}
	return out, warnings, nil
}
