package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	NoBorderStyle    = BorderStyle{}
)

// Table renders rows as a bordered, column aligned table
type Table struct {
	headers    []string
	rows       [][]string
	footer     []string
	alignments map[int]Alignment
	border     BorderStyle
	padding    int
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a table that fits the terminal width
func NewTable(colors ColorSystem, headers ...string) *Table {
	if colors == nil {
		colors = NewPlainColorSystem()
	}
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		padding:    1,
		maxWidth:   terminalWidth(),
		colors:     colors,
	}
}

// AddRow adds a row of cells
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

// SetFooter sets a row rendered below a separator
func (t *Table) SetFooter(cells ...string) *Table {
	t.footer = cells
	return t
}

// AlignRight right-aligns the given columns
func (t *Table) AlignRight(columns ...int) *Table {
	for _, c := range columns {
		t.alignments[c] = AlignRight
	}
	return t
}

// SetBorder replaces the border style
func (t *Table) SetBorder(border BorderStyle) *Table {
	t.border = border
	return t
}

// SetMaxWidth bounds the rendered width; zero disables the bound
func (t *Table) SetMaxWidth(width int) *Table {
	t.maxWidth = width
	return t
}

// Render returns the formatted table
func (t *Table) Render() string {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return ""
	}

	var b strings.Builder
	line := t.separator(widths)

	b.WriteString(line)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(line)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	if len(t.footer) > 0 {
		b.WriteString(line)
		b.WriteString(t.renderRow(t.footer, widths, true))
	}
	b.WriteString(line)
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	if len(t.footer) > cols {
		cols = len(t.footer)
	}
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	measure(t.footer)

	if t.maxWidth > 0 {
		t.shrink(widths)
	}
	return widths
}

// shrink narrows the widest column until the table fits maxWidth
func (t *Table) shrink(widths []int) {
	const minWidth = 6
	total := func() int {
		n := len(widths) + 1
		for _, w := range widths {
			n += w + 2*t.padding
		}
		return n
	}

	for total() > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= minWidth {
			return
		}
		widths[widest]--
	}
}

func (t *Table) separator(widths []int) string {
	if t.border.Horizontal == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2*t.padding))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, emphasize bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = truncate(row[i], w)
		}

		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if emphasize {
			cell = t.colors.Colorize(cell, t.colors.Theme().Highlight)
		}

		b.WriteString(strings.Repeat(" ", t.padding))
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(strings.Repeat(" ", t.padding))

		if t.border.Vertical != "" {
			b.WriteString(t.border.Vertical)
		} else if i < len(widths)-1 {
			b.WriteString(" ")
		}
	}
	return strings.TrimRight(b.String(), " ") + "\n"
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// terminalWidth returns the width of stdout, or zero when it is not a terminal
func terminalWidth() int {
	width, _, err := term.GetSize(1)
	if err != nil {
		return 0
	}
	return width
}
