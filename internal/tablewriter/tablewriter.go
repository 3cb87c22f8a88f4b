// Package tablewriter renders ASCII tables for the CLI, used by the
// timeline command to present execution histories.
package tablewriter

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Writer formats rows into an ASCII table with aligned columns.
type Writer struct {
	out        io.Writer
	headers    []string
	rows       [][]string
	widths     []int
	maxColumns int
}

// stripANSI removes ANSI escape sequences so colored cells align correctly.
func stripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// displayWidth returns the terminal cell width of a string, accounting for
// wide runes and excluding ANSI codes.
func displayWidth(s string) int {
	return runewidth.StringWidth(stripANSI(s))
}

// NewWriter creates a new table writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		out:    w,
		rows:   make([][]string, 0),
		widths: make([]int, 0),
	}
}

// Header sets the table headers
func (t *Writer) Header(headers []string) {
	t.headers = headers
	t.maxColumns = len(headers)
	t.updateWidths(headers)
}

// Append adds a new row to the table
func (t *Writer) Append(row []string) {
	t.rows = append(t.rows, row)
	t.updateWidths(row)
}

func (t *Writer) updateWidths(row []string) {
	limit := len(row)
	if t.maxColumns > 0 && limit > t.maxColumns {
		limit = t.maxColumns
	}

	for i := 0; i < limit; i++ {
		if i >= len(t.widths) {
			t.widths = append(t.widths, 0)
		}
		if width := displayWidth(row[i]); width > t.widths[i] {
			t.widths[i] = width
		}
	}

	if t.maxColumns == 0 && len(t.widths) > t.maxColumns {
		t.maxColumns = len(t.widths)
	}
}

// Render outputs the table to the writer
func (t *Writer) Render() {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return
	}

	t.printBorder()
	if len(t.headers) > 0 {
		t.printRow(t.headers)
		t.printBorder()
	}
	for _, row := range t.rows {
		t.printRow(row)
	}
	t.printBorder()
}

func (t *Writer) printBorder() {
	fmt.Fprint(t.out, "+")
	for _, width := range t.widths {
		fmt.Fprint(t.out, strings.Repeat("-", width+2))
		fmt.Fprint(t.out, "+")
	}
	fmt.Fprintln(t.out)
}

func (t *Writer) printRow(row []string) {
	fmt.Fprint(t.out, "|")
	for i := 0; i < len(t.widths); i++ {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		padding := t.widths[i] - displayWidth(cell)
		fmt.Fprintf(t.out, " %s%s |", cell, strings.Repeat(" ", padding))
	}
	fmt.Fprintln(t.out)
}
