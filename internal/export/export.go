// Package export writes recommendation records as JSON or CSV. The CSV
// form round-trips through ReadCSV without loss.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/bidguard/internal/domain"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv"; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidInput, s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Write encodes recs in format f.
func Write(w io.Writer, f Format, recs []domain.Recommendation) error {
	if f == FormatCSV {
		return WriteCSV(w, recs)
	}
	return WriteJSON(w, recs)
}

// WriteJSON writes recs as an indented JSON array.
func WriteJSON(w io.Writer, recs []domain.Recommendation) error {
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

// Header is the CSV column order.
var Header = []string{
	"id", "entity_type", "entity_id", "entity_name", "adjustment_type",
	"current_value", "recommended_value", "adjustment_amount", "adjustment_percentage",
	"priority", "confidence", "reason", "rules_triggered", "status", "created_at",
	"metric", "metric_value", "metric_target", "baseline_sales",
	"superseded_by", "decided_by", "decided_at", "applied_at", "evaluate_after",
}

// rulesSep joins rule ids in one CSV cell. Rule ids never contain it.
const rulesSep = "|"

// WriteCSV writes recs with a header row.
func WriteCSV(w io.Writer, recs []domain.Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i := range recs {
		if err := cw.Write(row(&recs[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(r *domain.Recommendation) []string {
	rules := make([]string, len(r.RulesTriggered))
	for i, id := range r.RulesTriggered {
		rules[i] = string(id)
	}
	return []string{
		r.ID, string(r.EntityType), r.EntityID, r.EntityName, string(r.AdjustmentType),
		num(r.CurrentValue), num(r.RecommendedValue), num(r.AdjustmentAmount), num(r.AdjustmentPercentage),
		string(r.Priority), num(r.Confidence), r.Reason, strings.Join(rules, rulesSep), string(r.Status),
		r.CreatedAt.Format(time.RFC3339Nano),
		string(r.Metric), num(r.MetricValue), num(r.MetricTarget), num(r.BaselineSales),
		r.SupersededBy, r.DecidedBy, ts(r.DecidedAt), ts(r.AppliedAt), ts(r.EvaluateAfter),
	}
}

// ReadCSV parses the output of WriteCSV.
func ReadCSV(rd io.Reader) ([]domain.Recommendation, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty csv", domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	for i, h := range Header {
		if head[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", domain.ErrInvalidInput, i+1, head[i], h)
		}
	}

	var out []domain.Recommendation
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		r, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidInput, line, err)
		}
		out = append(out, r)
	}
}

// fieldParser accumulates the first parse error so a row can be decoded
// without checking every field.
type fieldParser struct {
	rec []string
	err error
}

func (p *fieldParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.rec[i], 64)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", Header[i], err)
	}
	return v
}

func (p *fieldParser) time(i int) time.Time {
	if p.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, p.rec[i])
	if err != nil {
		p.err = fmt.Errorf("%s: %w", Header[i], err)
	}
	return t
}

func (p *fieldParser) optTime(i int) *time.Time {
	if p.rec[i] == "" {
		return nil
	}
	t := p.time(i)
	return &t
}

func parseRow(rec []string) (domain.Recommendation, error) {
	p := &fieldParser{rec: rec}
	r := domain.Recommendation{
		ID:                   rec[0],
		EntityType:           domain.EntityType(rec[1]),
		EntityID:             rec[2],
		EntityName:           rec[3],
		AdjustmentType:       domain.AdjustmentType(rec[4]),
		CurrentValue:         p.float(5),
		RecommendedValue:     p.float(6),
		AdjustmentAmount:     p.float(7),
		AdjustmentPercentage: p.float(8),
		Priority:             domain.Priority(rec[9]),
		Confidence:           p.float(10),
		Reason:               rec[11],
		Status:               domain.Status(rec[13]),
		CreatedAt:            p.time(14),
		Metric:               domain.Metric(rec[15]),
		MetricValue:          p.float(16),
		MetricTarget:         p.float(17),
		BaselineSales:        p.float(18),
		SupersededBy:         rec[19],
		DecidedBy:            rec[20],
		DecidedAt:            p.optTime(21),
		AppliedAt:            p.optTime(22),
		EvaluateAfter:        p.optTime(23),
	}
	if rec[12] != "" {
		for _, id := range strings.Split(rec[12], rulesSep) {
			r.RulesTriggered = append(r.RulesTriggered, domain.RuleID(id))
		}
	}
	if p.err != nil {
		return domain.Recommendation{}, p.err
	}
	if !r.EntityType.Valid() {
		return domain.Recommendation{}, fmt.Errorf("entity_type %q", rec[1])
	}
	if !r.AdjustmentType.Valid() {
		return domain.Recommendation{}, fmt.Errorf("adjustment_type %q", rec[4])
	}
	if _, err := domain.ParsePriority(rec[9]); err != nil {
		return domain.Recommendation{}, err
	}
	if _, err := domain.ParseStatus(rec[13]); err != nil {
		return domain.Recommendation{}, err
	}
	return r, nil
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func ts(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
