package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	records "adms-gateway/internal/records/domain"
)

// BuildAttendancePDF renders a minimal PDF attendance report.
func BuildAttendancePDF(serialNumber string, recs []records.Attendance, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Attendance Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if serialNumber != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Device: %s", serialNumber))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Events: %d", len(recs)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(25, 6, "PIN", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Verify", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "In/Out", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, rec := range recs {
		pdf.CellFormat(25, 6, rec.PIN, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, rec.Timestamp, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, rec.VerifyMode, "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, rec.InOutMode, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, rec.SerialNumber, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAttendanceXLSX renders a minimal XLSX attendance report.
func BuildAttendanceXLSX(serialNumber string, recs []records.Attendance, generatedAt time.Time) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	eventsSheet := "events"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(eventsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Attendance Report")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", serialNumber)
	_ = f.SetCellValue(summarySheet, "A4", "Generated")
	_ = f.SetCellValue(summarySheet, "B4", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Events")
	_ = f.SetCellValue(summarySheet, "B5", len(recs))

	_ = f.SetCellValue(eventsSheet, "A1", "PIN")
	_ = f.SetCellValue(eventsSheet, "B1", "Time")
	_ = f.SetCellValue(eventsSheet, "C1", "Verify Mode")
	_ = f.SetCellValue(eventsSheet, "D1", "In/Out")
	_ = f.SetCellValue(eventsSheet, "E1", "Work Code")
	_ = f.SetCellValue(eventsSheet, "F1", "Device")
	for i, rec := range recs {
		row := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", row), rec.PIN)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", row), rec.Timestamp)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", row), rec.VerifyMode)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("D%d", row), rec.InOutMode)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", row), rec.WorkCode)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", row), rec.SerialNumber)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
