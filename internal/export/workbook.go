package export

import (
	"bytes"
	"fmt"
	"sort"

	"xhale-breath/internal/session"

	"github.com/xuri/excelize/v2"
)

const (
	samplesSheet = "Samples"
	summarySheet = "Summary"
)

// SamplesHeader column order of the Samples sheet
var SamplesHeader = []string{"Timestamp", "CO Raw", "Temperature C", "Battery %", "Device Serial", "Session ID"}

var samplesColumnWidths = []float64{26, 12, 15, 11, 18, 38}

// SessionWorkbook renders a session's raw series and analysis summary as XLSX
func SessionWorkbook(record *session.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", samplesSheet); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeSamples(f, record, headerStyle); err != nil {
		return nil, err
	}
	if err := writeSummary(f, record, headerStyle); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSamples(f *excelize.File, record *session.Record, headerStyle int) error {
	for i, header := range SamplesHeader {
		if err := setCellValue(f, samplesSheet, i+1, 1, header); err != nil {
			return fmt.Errorf("failed to set header cell: %w", err)
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(samplesSheet, col, col, samplesColumnWidths[i]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	if err := f.SetCellStyle(samplesSheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, p := range record.DataPoints {
		row := i + 2
		values := []interface{}{p.Timestamp, nil, nil, nil, record.DeviceID, record.SessionID}
		if p.CORaw != nil {
			values[1] = *p.CORaw
		}
		if p.TemperatureC != nil {
			values[2] = *p.TemperatureC
		}
		if p.BatteryPercent != nil {
			values[3] = *p.BatteryPercent
		}
		for col, v := range values {
			if v == nil {
				continue
			}
			if err := setCellValue(f, samplesSheet, col+1, row, v); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	return f.SetPanes(samplesSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, record *session.Record, headerStyle int) error {
	rows := [][]interface{}{
		{"Field", "Value"},
		{"Session ID", record.SessionID},
		{"Device Serial", record.DeviceID},
		{"User ID", record.UserID},
		{"Started At", record.StartedAt},
		{"Ended At", record.EndedAt},
		{"Duration (s)", record.DurationSeconds},
		{"Estimated ppm", record.EstimatedPpm},
		{"Delta R Comp", record.DeltaRComp},
		{"Temperature Rise C", record.TemperatureRiseC},
		{"Baseline CO", record.BaselineCO},
		{"Peak CO", record.PeakCO},
		{"Calibration Path", string(record.Path)},
		{"Calibration Mode", record.Mode},
		{"Calibration Source", record.Source},
		{"Method", record.Method},
	}
	if record.BatteryPercent != nil {
		rows = append(rows, []interface{}{"Battery %", *record.BatteryPercent})
	}

	flags := make([]string, 0, len(record.QualityFlags))
	for name := range record.QualityFlags {
		flags = append(flags, name)
	}
	sort.Strings(flags)
	for _, name := range flags {
		rows = append(rows, []interface{}{"Flag " + name, record.QualityFlags[name]})
	}

	for i, row := range rows {
		for j, v := range row {
			if err := setCellValue(f, summarySheet, j+1, i+1, v); err != nil {
				return fmt.Errorf("failed to set summary cell: %w", err)
			}
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", "B1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "B", 24)
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
