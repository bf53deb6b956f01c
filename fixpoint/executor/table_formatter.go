package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/wbrown/janus-fixpoint/fixpoint"
	"github.com/wbrown/janus-fixpoint/fixpoint/collection"
)

// TableFormatter renders results and collections as markdown tables.
type TableFormatter struct {
	// MaxWidth is the maximum width for a column
	MaxWidth int
	// TruncateString is the string to append when truncating
	TruncateString string
}

// NewTableFormatter creates a new table formatter with default settings
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatResult formats the rows of a result in finishing order.
func (tf *TableFormatter) FormatResult(res *Result) string {
	if res == nil {
		return "_Empty result_"
	}
	cells := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		cells[i] = tf.formatRow(row)
	}
	return tf.formatTable(res.Columns, cells, len(res.Rows))
}

// FormatCollection formats a consolidated collection with a multiplicity
// column.
func (tf *TableFormatter) FormatCollection(c *collection.Collection) string {
	if c == nil || c.IsEmpty() {
		return "_Empty collection_"
	}
	entries := c.Entries()
	width := len(entries[0].Row)
	columns := make([]string, 0, width+1)
	for i := 0; i < width; i++ {
		columns = append(columns, "#"+strconv.Itoa(i))
	}
	columns = append(columns, "diff")

	cells := make([][]string, len(entries))
	for i, u := range entries {
		cells[i] = append(tf.formatRow(u.Row), strconv.FormatInt(u.Diff, 10))
	}
	return tf.formatTable(columns, cells, len(entries))
}

func (tf *TableFormatter) formatTable(columns []string, cells [][]string, rows int) string {
	if rows == 0 {
		return fmt.Sprintf("_Columns: %v_\n\n_No rows_", columns)
	}

	tableString := &strings.Builder{}

	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)
	for _, row := range cells {
		table.Append(row)
	}
	table.Render()

	tableString.WriteString(fmt.Sprintf("\n_%d rows_\n", rows))
	return tableString.String()
}

func (tf *TableFormatter) formatRow(row fixpoint.Row) []string {
	out := make([]string, len(row))
	for i, d := range row {
		out[i] = tf.formatValue(d)
	}
	return out
}

// formatValue renders strings unquoted and truncates long cells.
func (tf *TableFormatter) formatValue(d fixpoint.Datum) string {
	var s string
	if v, ok := d.(string); ok {
		s = v
	} else {
		s = fixpoint.FormatDatum(d)
	}
	if tf.MaxWidth > 0 && len(s) > tf.MaxWidth {
		s = s[:tf.MaxWidth] + tf.TruncateString
	}
	return s
}

// ResultString renders a result with the default formatter.
func ResultString(res *Result) string {
	return NewTableFormatter().FormatResult(res)
}
