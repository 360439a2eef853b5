// Package export renders metrics into spreadsheets and reads tabular input
// from them.
package export

import (
	"fmt"
	"io"

	"github.com/andresuchdata/stockcast/internal/domain"
	"github.com/xuri/excelize/v2"
)

// HorizonSheet is the sheet name of an exported workbook.
const HorizonSheet = "Horizon"

var horizonHeader = []interface{}{
	"user_id", "product_id", "date", "kind",
	"sales", "on_hand", "incoming", "forecast", "order_point",
	"projected_on_hand", "soq", "planned_arrival", "lead_time_days",
}

// WriteHorizonWorkbook writes rows as a single-sheet XLSX workbook to w.
func WriteHorizonWorkbook(w io.Writer, rows []domain.DailyMetrics) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), HorizonSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(HorizonSheet, "A1", &horizonHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, m := range rows {
		kind := "actual"
		if m.IsProjection {
			kind = "projection"
		}
		record := []interface{}{
			m.UserID, m.ProductID, m.Date.Format(domain.DateLayout), kind,
			m.Sales.InexactFloat64(),
			m.OnHand.InexactFloat64(),
			m.Incoming.InexactFloat64(),
			m.Forecast.InexactFloat64(),
			m.OrderPoint.InexactFloat64(),
			m.ProjectedOnHand.InexactFloat64(),
			m.SOQ.InexactFloat64(),
			m.PlannedArrival.InexactFloat64(),
			m.LeadTimeDays,
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(HorizonSheet, cell, &record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(HorizonSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ReadSheetRecords returns every row of the first sheet of an XLSX file.
func ReadSheetRecords(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx file %s: %w", path, err)
	}
	defer f.Close()
	return readFirstSheet(f, path)
}

// ReadSheetRecordsFrom is ReadSheetRecords over an open reader.
func ReadSheetRecordsFrom(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()
	return readFirstSheet(f, "xlsx")
}

func readFirstSheet(f *excelize.File, name string) ([][]string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx file %s has no sheets", name)
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheet, err)
	}
	defer rows.Close()

	var records [][]string
	for rows.Next() {
		record, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row from %s: %w", name, err)
		}
		records = append(records, record)
	}

	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("error iterating rows in %s: %w", name, err)
	}
	return records, nil
}
