package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// Export serializes the full filtered, sorted row set in the requested
// format, honoring visible and selected columns. Pagination does not apply:
// an export covers everything the query matches.
func (e *Engine) Export(ctx context.Context, name string, p *params.Params, rc *RequestContext) (*ExportResult, error) {
	resource, err := e.guard(name, rc)
	if err != nil {
		return nil, err
	}
	if p.Export == "" {
		return nil, apierr.NewValidation("export", "export format is required")
	}

	c := &compiler{resource: resource, dialect: e.config.Dialect}
	q, err := c.buildQuery(p, rc, false)
	if err != nil {
		return nil, err
	}
	rows, err := e.queryRows(ctx, "export", q)
	if err != nil {
		return nil, err
	}

	columns := exportColumns(resource, p)

	var payload []byte
	var contentType string
	switch p.Export {
	case schema.ExportCSV:
		payload, err = encodeCSV(columns, rows)
		contentType = "text/csv; charset=utf-8"
	case schema.ExportJSON:
		payload, err = encodeJSON(columns, rows)
		contentType = "application/json; charset=utf-8"
	default:
		return nil, apierr.NewValidation("export", "unsupported export format %q", p.Export)
	}
	if err != nil {
		return nil, &apierr.ExecutionError{Op: "export", Err: err}
	}

	return &ExportResult{
		Format:      p.Export,
		Filename:    fmt.Sprintf("%s.%s", resource.Name, p.Export),
		ContentType: contentType,
		Payload:     payload,
	}, nil
}

// exportColumns resolves the exported column list in declaration order
func exportColumns(resource *schema.Resource, p *params.Params) []*schema.Column {
	selected := func(name string) bool {
		if len(p.Select) == 0 {
			return true
		}
		for _, s := range p.Select {
			if s == name {
				return true
			}
		}
		return false
	}

	columns := make([]*schema.Column, 0, len(resource.Columns))
	for _, col := range resource.Columns {
		if col.Hidden || !selected(col.Name) {
			continue
		}
		columns = append(columns, col)
	}
	return columns
}

func encodeCSV(columns []*schema.Column, rows []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Label
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			value := row[col.Name]
			if value == nil {
				record[i] = ""
			} else {
				record[i] = fmt.Sprintf("%v", value)
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func encodeJSON(columns []*schema.Column, rows []map[string]any) ([]byte, error) {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		filtered := make(map[string]any, len(columns))
		for _, col := range columns {
			if value, ok := row[col.Name]; ok {
				filtered[col.Name] = value
			}
		}
		out[i] = filtered
	}
	return json.Marshal(out)
}
