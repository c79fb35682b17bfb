package forms

import (
	"github.com/pitabwire/portdesk/internal/derived"
	"github.com/pitabwire/portdesk/internal/docpath"
)

// TableTotal is the sum of one invoice table's amounts.
type TableTotal struct {
	Title   string  `json:"title"`
	Rows    int     `json:"rows"`
	Total   float64 `json:"total"`
	Display string  `json:"display"`
}

// InvoiceSummary is the per-table and grand totals of a PDA or work-done
// invoice.
type InvoiceSummary struct {
	Tables       []TableTotal `json:"tables"`
	Grand        float64      `json:"grand"`
	GrandDisplay string       `json:"grand_display"`
}

// InvoiceTotals sums the amount column of every table in an invoice
// document. Amounts that do not parse, blanks included, count as zero.
func InvoiceTotals(doc any) InvoiceSummary {
	tables := docpath.GetList(doc, "tables")
	s := InvoiceSummary{Tables: make([]TableTotal, 0, len(tables))}
	for _, table := range tables {
		rows := docpath.GetList(table, "rows")
		total := derived.SumNumericField(rows, func(row any) string {
			return docpath.GetString(row, "amount")
		})
		s.Tables = append(s.Tables, TableTotal{
			Title:   docpath.GetString(table, "title"),
			Rows:    len(rows),
			Total:   total,
			Display: derived.FormatAmount(total),
		})
		s.Grand += total
	}
	s.GrandDisplay = derived.FormatAmount(s.Grand)
	return s
}
