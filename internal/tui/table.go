package tui

import (
	"fmt"
	"strings"

	tm "github.com/buger/goterm"
)

// Table выравнивает строки по колонкам.
func Table(header []string, rows [][]string) string {
	table := tm.NewTable(0, 8, 2, ' ', 0)
	fmt.Fprintln(table, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(table, strings.Join(row, "\t"))
	}
	return table.String()
}
