package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/repository"
)

// ValuesHeader is the column order of a platform values file. Empty bid or
// budget cells leave that value unrecorded.
var ValuesHeader = []string{"entity_type", "entity_id", "bid", "budget", "negated"}

// ValueRow is one entity's platform values.
type ValueRow struct {
	Ref    domain.EntityRef
	Values repository.EntityValues
}

// ReadValuesCSV parses a platform values file. Entities must not repeat.
func ReadValuesCSV(rd io.Reader) ([]ValueRow, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = len(ValuesHeader)
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty csv", domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	for i, h := range ValuesHeader {
		if head[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", domain.ErrInvalidInput, i+1, head[i], h)
		}
	}

	var out []ValueRow
	seen := make(map[string]int)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		row, err := parseValueRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidInput, line, err)
		}
		if prev, ok := seen[row.Ref.Key()]; ok {
			return nil, fmt.Errorf("%w: line %d: %s already on line %d", domain.ErrInvalidInput, line, row.Ref.Key(), prev)
		}
		seen[row.Ref.Key()] = line
		out = append(out, row)
	}
}

func parseValueRow(rec []string) (ValueRow, error) {
	t, err := domain.ParseEntityType(rec[0])
	if err != nil {
		return ValueRow{}, err
	}
	if rec[1] == "" {
		return ValueRow{}, errors.New("entity_id is empty")
	}
	row := ValueRow{Ref: domain.EntityRef{Type: t, ID: rec[1]}}
	if row.Values.Bid, err = amount(rec, 2); err != nil {
		return ValueRow{}, err
	}
	if row.Values.Budget, err = amount(rec, 3); err != nil {
		return ValueRow{}, err
	}
	if rec[4] != "" {
		if row.Values.Negated, err = strconv.ParseBool(rec[4]); err != nil {
			return ValueRow{}, fmt.Errorf("negated: %w", err)
		}
	}
	return row, nil
}

func amount(rec []string, i int) (float64, error) {
	if rec[i] == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(rec[i], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ValuesHeader[i], err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: %v is negative", ValuesHeader[i], v)
	}
	return v, nil
}
