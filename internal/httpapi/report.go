package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"sunlight-backend/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// DailyReportHeader 日报表头
var DailyReportHeader = []string{
	"Observation Minute (UTC)",
	"Sensor ID",
	"Sensor Set ID",
	"Smoothed Light Intensity",
	"Last Updated (UTC)",
}

// handleDailyReport 生成一个传感器组某天的聚合点 Excel 日报
func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sensorSetID := r.URL.Query().Get("sensor_set_id")
	if sensorSetID == "" {
		s.writeError(w, http.StatusBadRequest, "sensor_set_id is required")
		return
	}

	dateParam := r.URL.Query().Get("date")
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if dateParam != "" {
		parsed, err := time.Parse("2006-01-02", dateParam)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
			return
		}
		day = parsed
	}

	points, err := s.reports.GetPointsForDay(r.Context(), sensorSetID, day)
	if err != nil {
		s.logger.Error("Failed to load report data",
			zap.String("sensor_set_id", sensorSetID),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to load report data")
		return
	}

	data, err := generateDailyReport(points)
	if err != nil {
		s.logger.Error("Failed to generate report", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to generate report")
		return
	}

	filename := fmt.Sprintf("sunlight-%s-%s.xlsx", sensorSetID, day.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// generateDailyReport 生成日报 Excel 文件
func generateDailyReport(points []models.AggregatePoint) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Daily Readings"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#FFF4E6"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range DailyReportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{24, 20, 20, 24, 24}
	for i := range DailyReportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, p := range points {
		row := rowIdx + 2
		values := []interface{}{
			p.ObservationMinute.UTC().Format("2006-01-02 15:04"),
			p.SensorID,
			p.SensorSetID,
			p.SmoothedLightIntensity,
			p.LastUpdated.UTC().Format("2006-01-02 15:04:05"),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d: %w", row, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}
