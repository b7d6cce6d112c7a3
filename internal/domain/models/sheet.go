package models

// CellUpdate is one value destined for a 1-based (row, col) cell.
type CellUpdate struct {
	Row   int
	Col   int
	Value any
}

// SheetInfo describes the worksheet the updater writes to.
type SheetInfo struct {
	Title        string `json:"title"`
	SheetCount   int    `json:"sheet_count"`
	CurrentSheet string `json:"current_sheet"`
	RowCount     int    `json:"row_count"`
	ColCount     int    `json:"col_count"`
}
