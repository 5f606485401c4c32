package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"plantwatch-collector/internal/models"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const sheetName = "Sensors"

// SensorImportHeader 导入模板表头
var SensorImportHeader = []string{
	"Name",
	"Kind",
	"Host",
	"Port",
	"Interval (s)",
	"Timeout (s)",
	"Active",
	"Location ID",
	"Description",
}

// SensorExportHeader 导出表头
var SensorExportHeader = []string{
	"ID",
	"Name",
	"Kind",
	"Host",
	"Port",
	"Interval (s)",
	"Timeout (s)",
	"Active",
	"Location ID",
	"Description",
	"Status",
	"Last Collected At",
	"Created At",
}

// RowError 导入时某一行的错误（行号从 1 开始，含表头）
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult 导入结果
type ImportResult struct {
	Created []string   `json:"created"`
	Errors  []RowError `json:"errors"`
}

// GenerateImportTemplate 生成只有表头的导入模板
func GenerateImportTemplate() ([]byte, error) {
	return writeSheet(SensorImportHeader, nil)
}

// Export 导出全部传感器
func (s *Service) Export(ctx context.Context) ([]byte, error) {
	views, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(views))
	for _, v := range views {
		lastCollected := ""
		if v.LastCollectedAt != nil {
			lastCollected = v.LastCollectedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, []any{
			v.ID,
			v.Name,
			string(v.Kind),
			v.Host,
			v.Port,
			v.IntervalSec,
			v.TimeoutSec,
			yesNo(v.Active),
			deref(v.LocationID),
			deref(v.Description),
			string(v.Status),
			lastCollected,
			v.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return writeSheet(SensorExportHeader, rows)
}

// Import 从 Excel 导入传感器
// 校验失败的行记录到 Errors 并继续；存储错误中止导入
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	inputs, rowErrs, err := ParseImport(r)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Created: []string{}, Errors: rowErrs}
	for _, in := range inputs {
		sensor, err := s.Create(ctx, in.SensorInput)
		if err != nil {
			if models.IsValidation(err) {
				result.Errors = append(result.Errors, RowError{Row: in.Row, Message: err.Error()})
				continue
			}
			return result, err
		}
		result.Created = append(result.Created, sensor.ID)
	}

	s.logger.Info("Sensors imported",
		zap.Int("created", len(result.Created)),
		zap.Int("rejected", len(result.Errors)),
	)
	return result, nil
}

// ImportRow 解析出的一行
type ImportRow struct {
	Row int
	SensorInput
}

// ParseImport 解析导入文件的第一个工作表
// 表头按名称匹配（不区分大小写），列顺序不限
func ParseImport(r io.Reader) ([]ImportRow, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, models.NewValidationError("file", "not a valid xlsx file: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, models.NewValidationError("file", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, models.NewValidationError("file", "missing header row")
	}

	columns := map[string]int{}
	for i, h := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "kind", "host"} {
		if _, ok := columns[required]; !ok {
			return nil, nil, models.NewValidationError("file", "missing required column %q", required)
		}
	}

	cell := func(row []string, header string) (string, bool) {
		idx, ok := columns[strings.ToLower(header)]
		if !ok || idx >= len(row) {
			return "", false
		}
		v := strings.TrimSpace(row[idx])
		return v, v != ""
	}

	var (
		out     []ImportRow
		rowErrs []RowError
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		if isBlank(row) {
			continue
		}

		var in SensorInput
		if v, ok := cell(row, "Name"); ok {
			in.Name = &v
		}
		if v, ok := cell(row, "Kind"); ok {
			kind := models.SensorKind(v)
			in.Kind = &kind
		}
		if v, ok := cell(row, "Host"); ok {
			in.Host = &v
		}
		if v, ok := cell(row, "Location ID"); ok {
			in.LocationID = &v
		}
		if v, ok := cell(row, "Description"); ok {
			in.Description = &v
		}
		if v, ok := cell(row, "Active"); ok {
			active := parseYesNo(v)
			in.Active = &active
		}

		var bad string
		for header, dst := range map[string]**int{"Port": &in.Port, "Interval (s)": &in.IntervalSec, "Timeout (s)": &in.TimeoutSec} {
			v, ok := cell(row, header)
			if !ok {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				bad = fmt.Sprintf("%s: %q is not a number", header, v)
				break
			}
			*dst = &n
		}
		if bad != "" {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: bad})
			continue
		}

		out = append(out, ImportRow{Row: rowNum, SensorInput: in})
	}
	return out, rowErrs, nil
}

func writeSheet(headers []string, rows [][]any) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range headers {
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

	for r, values := range rows {
		for c, value := range values {
			if value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
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

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func parseYesNo(v string) bool {
	switch strings.ToLower(v) {
	case "no", "n", "false", "0", "inactive":
		return false
	default:
		return true
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
