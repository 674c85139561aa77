// Package table lays an aggregate mapping out as rows keyed by sc_gid.
package table

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/agentic-research/scagg/internal/summary"
)

// Table is the tabular form of a summary.Mapping. Index holds the sc_gid of
// each row in ascending order; a nil cell means the point lacked that
// attribute.
type Table struct {
	Columns []string
	Index   []int
	Data    [][]any
}

// FromMapping transposes m. Built-in attributes come first in their
// canonical order, then any others alphabetically, then the grid indices.
func FromMapping(m summary.Mapping) *Table {
	present := map[string]bool{}
	for _, ps := range m {
		for name := range ps {
			present[name] = true
		}
	}
	delete(present, summary.AttrSCGID)

	cols := make([]string, 0, len(present))
	for _, name := range summary.Builtins {
		if present[name] {
			cols = append(cols, name)
			delete(present, name)
		}
	}
	var tail []string
	for _, name := range []string{summary.AttrSCRowInd, summary.AttrSCColInd} {
		if present[name] {
			tail = append(tail, name)
			delete(present, name)
		}
	}
	extra := make([]string, 0, len(present))
	for name := range present {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	cols = append(append(cols, extra...), tail...)

	t := &Table{Columns: cols, Index: m.GIDs()}
	t.Data = make([][]any, len(t.Index))
	for i, gid := range t.Index {
		ps := m[gid]
		row := make([]any, len(cols))
		for j, name := range cols {
			row[j] = ps[name]
		}
		t.Data[i] = row
	}
	return t
}

// Len is the number of rows.
func (t *Table) Len() int { return len(t.Index) }

// Column returns the position of name, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// WriteCSV writes a header and one line per row, sc_gid first.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{summary.AttrSCGID}, t.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for i, gid := range t.Index {
		record[0] = strconv.Itoa(gid)
		for j, v := range t.Data[i] {
			cell, err := formatCell(v)
			if err != nil {
				return fmt.Errorf("sc_gid %d column %s: %w", gid, t.Columns[j], err)
			}
			record[j+1] = cell
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case []int:
		b, err := json.Marshal(x)
		return string(b), err
	case string:
		return x, nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

type splitJSON struct {
	Columns []string `json:"columns"`
	Index   []int    `json:"index"`
	Data    [][]any  `json:"data"`
}

// WriteJSON writes the table in split orientation: columns, index and data.
func (t *Table) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(splitJSON{Columns: t.Columns, Index: t.Index, Data: t.Data})
}
