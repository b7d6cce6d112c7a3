package repository

import (
	"context"
	"fmt"
	"sync"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/pkg/util"
)

// MemorySheet is an in-process grid used for dry runs and tests.
type MemorySheet struct {
	mu    sync.RWMutex
	title string
	cells map[int]map[int]any
}

// NewMemorySheet returns an empty sheet. Seed it with SetRow.
func NewMemorySheet(title string) *MemorySheet {
	return &MemorySheet{title: title, cells: make(map[int]map[int]any)}
}

var _ drepo.Sheet = (*MemorySheet)(nil)

// SetRow overwrites a row starting at column A.
func (m *MemorySheet) SetRow(row int, values ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make(map[int]any, len(values))
	for i, v := range values {
		r[i+1] = v
	}
	m.cells[row] = r
}

// Cell returns the value at an A1 address such as "B3".
func (m *MemorySheet) Cell(addr string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for row, cols := range m.cells {
		for col, v := range cols {
			if util.CellAddress(row, col) == addr {
				return v, true
			}
		}
	}
	return nil, false
}

func (m *MemorySheet) ReadRow(_ context.Context, row int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.cells[row]
	last := 0
	for col := range r {
		if col > last {
			last = col
		}
	}
	out := make([]string, last)
	for col, v := range r {
		if v != nil {
			out[col-1] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func (m *MemorySheet) BatchWrite(_ context.Context, updates []models.CellUpdate) error {
	for _, u := range updates {
		if u.Row < 1 || u.Col < 1 {
			return fmt.Errorf("invalid cell (%d, %d)", u.Row, u.Col)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		m.set(u.Row, u.Col, u.Value)
	}
	return nil
}

func (m *MemorySheet) WriteCell(ctx context.Context, row, col int, value any) error {
	return m.BatchWrite(ctx, []models.CellUpdate{{Row: row, Col: col, Value: value}})
}

func (m *MemorySheet) Info(context.Context) (*models.SheetInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := &models.SheetInfo{Title: m.title, SheetCount: 1, CurrentSheet: m.title}
	for row, cols := range m.cells {
		if row > info.RowCount {
			info.RowCount = row
		}
		for col := range cols {
			if col > info.ColCount {
				info.ColCount = col
			}
		}
	}
	return info, nil
}

func (m *MemorySheet) set(row, col int, v any) {
	r, ok := m.cells[row]
	if !ok {
		r = make(map[int]any)
		m.cells[row] = r
	}
	r[col] = v
}
