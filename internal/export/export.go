package export

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ghouf2005/Agriculture-project/internal/models"
	"github.com/xuri/excelize/v2"
)

const timeLayout = "2006-01-02 15:04:05"

// Sheet names of the generated workbook
const (
	SheetSummary         = "Summary"
	SheetAnomalies       = "Anomalies"
	SheetRecommendations = "Recommendations"
)

// ExportService handles data export functionality
type ExportService struct{}

// NewExportService creates a new export service instance
func NewExportService() *ExportService {
	return &ExportService{}
}

// ExportData represents data to be exported
type ExportData struct {
	Anomalies       []models.AnomalyEvent
	Recommendations []models.AgentRecommendation
	Stats           *models.AnomalyStats
	ExportMetadata  ExportMetadata
}

// ExportMetadata contains information about the export
type ExportMetadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	PlotID      int64     `json:"plot_id"` // 0 means every plot
}

// GenerateExcel creates a workbook with the anomaly history and the
// recommendations attached to it. The caller closes the file.
func (es *ExportService) GenerateExcel(data ExportData) (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetDocProps(&excelize.DocProperties{
		Category:    "Field Plot Monitoring",
		Created:     data.ExportMetadata.GeneratedAt.Format(time.RFC3339),
		Creator:     "Agriculture Backend",
		Description: "Sensor anomalies and agent recommendations",
		Title:       "Plot Anomaly Report",
		Version:     "1.0",
	})

	steps := []func(*excelize.File, ExportData) error{
		es.createSummarySheet,
		es.createAnomaliesSheet,
		es.createRecommendationsSheet,
	}
	for _, step := range steps {
		if err := step(f, data); err != nil {
			f.Close()
			return nil, err
		}
	}

	f.SetActiveSheet(0)
	return f, nil
}

func headerStyle(f *excelize.File, color string, size float64) (int, error) {
	return f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: size, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
}

// writeTable writes a styled header row followed by rows
func writeTable(f *excelize.File, sheet, color string, headers []string, rows [][]interface{}) error {
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	style, err := headerStyle(f, color, 11)
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return err
	}

	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// createSummarySheet creates the summary overview sheet
func (es *ExportService) createSummarySheet(f *excelize.File, data ExportData) error {
	sheetName := SheetSummary
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	style, err := headerStyle(f, "4472C4", 14)
	if err != nil {
		return err
	}

	f.SetCellValue(sheetName, "A1", "Plot Anomaly Report")
	f.MergeCell(sheetName, "A1", "D1")
	f.SetCellStyle(sheetName, "A1", "D1", style)
	f.SetRowHeight(sheetName, 1, 25)

	scope := "All plots"
	if data.ExportMetadata.PlotID != 0 {
		scope = fmt.Sprintf("Plot %d", data.ExportMetadata.PlotID)
	}
	f.SetCellValue(sheetName, "A3", "Generated At:")
	f.SetCellValue(sheetName, "B3", data.ExportMetadata.GeneratedAt.Format(timeLayout))
	f.SetCellValue(sheetName, "A4", "Scope:")
	f.SetCellValue(sheetName, "B4", scope)
	f.SetCellValue(sheetName, "A5", "Anomalies:")
	f.SetCellValue(sheetName, "B5", len(data.Anomalies))
	f.SetCellValue(sheetName, "A6", "Recommendations:")
	f.SetCellValue(sheetName, "B6", len(data.Recommendations))

	if stats := data.Stats; stats != nil {
		f.SetCellValue(sheetName, "A8", "Average Confidence:")
		f.SetCellValue(sheetName, "B8", stats.AverageConfidence)

		row := 10
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), "By Severity")
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), style)
		for _, sev := range []models.Severity{models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
			row++
			f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), string(sev))
			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), stats.BySeverity[sev])
		}

		row += 2
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), "By Type")
		f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("A%d", row), style)
		types := make([]string, 0, len(stats.ByType))
		for typ := range stats.ByType {
			types = append(types, string(typ))
		}
		sort.Strings(types)
		for _, typ := range types {
			row++
			f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), typ)
			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), stats.ByType[models.AnomalyType(typ)])
		}
	}

	f.SetColWidth(sheetName, "A", "A", 22)
	f.SetColWidth(sheetName, "B", "D", 15)
	return nil
}

// createAnomaliesSheet lists every anomaly event
func (es *ExportService) createAnomaliesSheet(f *excelize.File, data ExportData) error {
	sheetName := SheetAnomalies
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	headers := []string{"Timestamp", "Plot", "Sensor", "Anomaly Type", "Severity", "Confidence", "Value", "Anomaly ID"}
	rows := make([][]interface{}, 0, len(data.Anomalies))
	for _, ev := range data.Anomalies {
		rows = append(rows, []interface{}{
			ev.Timestamp.Format(timeLayout),
			ev.PlotID,
			string(ev.SensorType),
			string(ev.AnomalyType),
			string(ev.Severity),
			ev.ModelConfidence,
			ev.Value,
			ev.ID,
		})
	}
	if err := writeTable(f, sheetName, "C55A11", headers, rows); err != nil {
		return err
	}

	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "G", 14)
	f.SetColWidth(sheetName, "H", "H", 38)
	return nil
}

// createRecommendationsSheet lists agent recommendations
func (es *ExportService) createRecommendationsSheet(f *excelize.File, data ExportData) error {
	sheetName := SheetRecommendations
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}

	headers := []string{"Timestamp", "Template", "Confidence", "Action", "Explanation", "Anomaly ID"}
	rows := make([][]interface{}, 0, len(data.Recommendations))
	for _, rec := range data.Recommendations {
		rows = append(rows, []interface{}{
			rec.Timestamp.Format(timeLayout),
			rec.Template,
			string(rec.Confidence),
			rec.Action,
			rec.Explanation,
			rec.AnomalyID,
		})
	}
	if err := writeTable(f, sheetName, "70AD47", headers, rows); err != nil {
		return err
	}

	f.SetColWidth(sheetName, "A", "C", 18)
	f.SetColWidth(sheetName, "D", "D", 50)
	f.SetColWidth(sheetName, "E", "E", 90)
	f.SetColWidth(sheetName, "F", "F", 38)
	return nil
}

// GenerateCSV creates CSV records for anomaly events
func (es *ExportService) GenerateCSV(anomalies []models.AnomalyEvent) [][]string {
	records := [][]string{
		{"Timestamp", "Plot", "Sensor", "Anomaly Type", "Severity", "Confidence", "Value", "Anomaly ID"},
	}

	for _, ev := range anomalies {
		records = append(records, []string{
			ev.Timestamp.Format(timeLayout),
			strconv.FormatInt(ev.PlotID, 10),
			string(ev.SensorType),
			string(ev.AnomalyType),
			string(ev.Severity),
			strconv.FormatFloat(ev.ModelConfidence, 'f', 3, 64),
			strconv.FormatFloat(ev.Value, 'f', 2, 64),
			ev.ID,
		})
	}
	return records
}

// WriteCSV writes CSV records to the provided writer
func (es *ExportService) WriteCSV(w *csv.Writer, records [][]string) error {
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}
