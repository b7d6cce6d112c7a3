package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnLetter converts a 1-based column index to spreadsheet letters
// (1 -> A, 26 -> Z, 27 -> AA). Non-positive input yields "".
func ColumnLetter(col int) string {
	var buf []byte
	for col > 0 {
		col--
		buf = append([]byte{byte('A' + col%26)}, buf...)
		col /= 26
	}
	return string(buf)
}

// CellAddress builds an A1-style address from 1-based row and column.
func CellAddress(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row)
}

// ParseCellAddress splits an A1-style address such as "AA12" into 1-based
// row and column. Lower-case letters are accepted.
func ParseCellAddress(addr string) (row, col int, err error) {
	s := strings.ToUpper(strings.TrimSpace(addr))
	i := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if i == 0 || i == len(s) {
		return 0, 0, fmt.Errorf("invalid cell address %q", addr)
	}
	row, err = strconv.Atoi(s[i:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("invalid cell address %q", addr)
	}
	return row, col, nil
}
