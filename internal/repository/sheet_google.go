package repository

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/util"
)

// USER_ENTERED lets the sheet parse numbers and dates as if typed.
const valueInputOption = "USER_ENTERED"

// GoogleSheet writes to one worksheet of a Google spreadsheet.
type GoogleSheet struct {
	svc           *sheets.Service
	spreadsheetID string
	worksheet     string
	log           *logger.Logger
}

// NewGoogleSheet opens the Sheets API with a service account credentials
// file. Extra client options (endpoint, HTTP client) are appended.
func NewGoogleSheet(ctx context.Context, spreadsheetID, worksheet, credentialsFile string, log *logger.Logger, opts ...option.ClientOption) (drepo.Sheet, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("google sheet: spreadsheet id is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	all := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		all = append(all, option.WithCredentialsFile(credentialsFile))
	}
	all = append(all, opts...)

	svc, err := sheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("google sheet: create service: %w", err)
	}
	return &GoogleSheet{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		log:           log.With(logger.String("spreadsheet", spreadsheetID)),
	}, nil
}

// a1 qualifies an A1 range with the worksheet title when one is configured.
func (g *GoogleSheet) a1(rng string) string {
	if g.worksheet == "" {
		return rng
	}
	return "'" + strings.ReplaceAll(g.worksheet, "'", "''") + "'!" + rng
}

// ReadRow returns the row's cell values as strings. Trailing empty cells are
// not returned by the API.
func (g *GoogleSheet) ReadRow(ctx context.Context, row int) ([]string, error) {
	rng := g.a1(fmt.Sprintf("%d:%d", row, row))
	vr, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read row %d: %w", row, err)
	}
	if len(vr.Values) == 0 {
		return nil, nil
	}
	out := make([]string, len(vr.Values[0]))
	for i, v := range vr.Values[0] {
		out[i] = fmt.Sprint(v)
	}
	return out, nil
}

// BatchWrite sends all updates in a single values:batchUpdate call.
func (g *GoogleSheet) BatchWrite(ctx context.Context, updates []models.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  g.a1(util.CellAddress(u.Row, u.Col)),
			Values: [][]interface{}{{u.Value}},
		})
	}
	resp, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch write %d cells: %w", len(updates), err)
	}
	g.log.Debug("sheet batch write", logger.Int64("cells", resp.TotalUpdatedCells))
	return nil
}

// WriteCell updates one cell.
func (g *GoogleSheet) WriteCell(ctx context.Context, row, col int, value any) error {
	addr := util.CellAddress(row, col)
	_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, g.a1(addr), &sheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption(valueInputOption).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write cell %s: %w", addr, err)
	}
	return nil
}

// Info reports spreadsheet and worksheet metadata.
func (g *GoogleSheet) Info(ctx context.Context) (*models.SheetInfo, error) {
	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheet info: %w", err)
	}
	info := &models.SheetInfo{SheetCount: len(ss.Sheets)}
	if ss.Properties != nil {
		info.Title = ss.Properties.Title
	}
	for i, s := range ss.Sheets {
		p := s.Properties
		if p == nil {
			continue
		}
		if (g.worksheet == "" && i == 0) || p.Title == g.worksheet {
			info.CurrentSheet = p.Title
			if gp := p.GridProperties; gp != nil {
				info.RowCount = int(gp.RowCount)
				info.ColCount = int(gp.ColumnCount)
			}
			break
		}
	}
	return info, nil
}
