package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"barberbook/internal/availability"
	"barberbook/internal/domain"
	"barberbook/internal/logging"
	"barberbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Availability"

// Fills for grid cells.
const (
	fillClosed      = "#FFC7CE"
	fillExceptional = "#FFEB9C"
	fillOpen        = "#C6EFCE"
	fillDateHeader  = "#DDEBF7"
	fillBarberName  = "#E2EFDA"
)

// BatchSource answers availability for many dates of one barber.
type BatchSource interface {
	BatchAvailability(ctx context.Context, req availability.BatchRequest) (*availability.BatchResult, error)
}

// Exporter writes the barbers x dates availability grid to an xlsx file.
type Exporter struct {
	barbers domain.BarberStore
	source  BatchSource
	dir     string
	logger  *zerolog.Logger
}

func NewExporter(barbers domain.BarberStore, source BatchSource, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		barbers: barbers,
		source:  source,
		dir:     dir,
		logger:  logging.Component(logger, "export"),
	}
}

// Export writes days dates starting at from and returns the file path.
func (e *Exporter) Export(ctx context.Context, from time.Time, days int) (string, error) {
	days = min(max(days, 1), models.MaxBatchDates)
	dates := models.DateRange(models.Day(from), days)
	first, last := dates[0], dates[len(dates)-1]

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	barbers, err := e.barbers.ListActiveBarbers(ctx)
	if err != nil {
		return "", fmt.Errorf("list barbers: %w", err)
	}

	results := make([]*availability.BatchResult, 0, len(barbers))
	for _, b := range barbers {
		res, err := e.source.BatchAvailability(ctx, availability.BatchRequest{BarberID: b.ID, Dates: dates})
		if err != nil {
			return "", fmt.Errorf("availability for %s: %w", b.ID, err)
		}
		results = append(results, res)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Availability: %s - %s",
		first.Format("02.01.2006"), last.Format("02.01.2006")))

	columns := writeDateHeaders(f, dates)
	writeBarberNames(f, barbers)
	styles := newCellStyles(f)
	for i, res := range results {
		writeBarberRow(f, 3+i, res, columns, styles)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 25)
	lastCol, _ := excelize.ColumnNumberToName(len(dates) + 1)
	_ = f.SetColWidth(sheetName, "B", lastCol, 10)

	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	title, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", title)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("availability_%s_to_%s.xlsx", models.DateKey(first), models.DateKey(last))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("save file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("barbers", len(barbers)).Int("days", days).Msg("availability exported")
	return filePath, nil
}

// writeDateHeaders fills row 2 and returns the column of each date key.
func writeDateHeaders(f *excelize.File, dates []time.Time) map[string]int {
	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{fillDateHeader}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	columns := make(map[string]int, len(dates))
	for i, d := range dates {
		col := i + 2
		cell, _ := excelize.CoordinatesToCellName(col, 2)
		_ = f.SetCellValue(sheetName, cell, d.Format("02.01"))
		_ = f.SetCellStyle(sheetName, cell, cell, style)
		columns[models.DateKey(d)] = col
	}
	return columns
}

func writeBarberNames(f *excelize.File, barbers []models.Barber) {
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{fillBarberName}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, b := range barbers {
		cell, _ := excelize.CoordinatesToCellName(1, 3+i)
		name := b.Name
		if name == "" {
			name = b.ID
		}
		_ = f.SetCellValue(sheetName, cell, name)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

type cellStyles struct {
	closed, exceptional, open int
}

func newCellStyles(f *excelize.File) cellStyles {
	fill := func(color string) int {
		id, _ := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center"},
		})
		return id
	}
	return cellStyles{
		closed:      fill(fillClosed),
		exceptional: fill(fillExceptional),
		open:        fill(fillOpen),
	}
}

func writeBarberRow(f *excelize.File, row int, res *availability.BatchResult, columns map[string]int, styles cellStyles) {
	for _, d := range res.Dates {
		col, ok := columns[d.Date]
		if !ok {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheetName, cell, fmt.Sprintf("%d/%d", d.AvailableCount, d.TotalSlots))

		style := styles.open
		switch {
		case slices.Contains(res.ExceptionalOpenings, d.Date):
			style = styles.exceptional
		case !d.HasSlots:
			style = styles.closed
		}
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}
