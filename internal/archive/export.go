package archive

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"mcs-iot/internal/models"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sensor Data"

var columns = []string{"time", "sn", "v_raw", "ppm", "temp", "humi", "bat", "rssi", "err_code", "seq"}

// Extension 归档文件扩展名
func Extension(format string) string {
	if format == models.ArchiveFormatXLSX {
		return "xlsx"
	}
	return "csv.gz"
}

// ContentType 上传时的 Content-Type
func ContentType(format string) string {
	if format == models.ArchiveFormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/gzip"
}

// ObjectKey sensor_data/{YYYY}/{MM}/sensor_data_{YYYYMMDD}.{ext}
func ObjectKey(day time.Time, format string) string {
	return fmt.Sprintf("sensor_data/%s/%s/sensor_data_%s.%s",
		day.Format("2006"), day.Format("01"), day.Format("20060102"), Extension(format))
}

// rowWriter 按行写出读数，Close 后输出完整文件
type rowWriter interface {
	Write(r models.SensorReading) error
	Close() error
}

func newRowWriter(format string, w io.Writer) (rowWriter, error) {
	switch format {
	case models.ArchiveFormatXLSX:
		return newXLSXWriter(w)
	case models.ArchiveFormatCSVGzip, "":
		return newCSVGzipWriter(w)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", format)
	}
}

func record(r models.SensorReading) []string {
	return []string{
		r.Time.UTC().Format(time.RFC3339),
		r.SN,
		strconv.FormatFloat(r.VRaw, 'f', -1, 64),
		strconv.FormatFloat(r.PPM, 'f', -1, 64),
		strconv.FormatFloat(r.Temp, 'f', -1, 64),
		strconv.FormatFloat(r.Humi, 'f', -1, 64),
		strconv.Itoa(r.Bat),
		strconv.Itoa(r.RSSI),
		strconv.Itoa(r.ErrCode),
		strconv.FormatInt(r.Seq, 10),
	}
}

// ============================================
// csv.gz
// ============================================

type csvGzipWriter struct {
	gz  *gzip.Writer
	csv *csv.Writer
}

func newCSVGzipWriter(w io.Writer) (*csvGzipWriter, error) {
	gz := gzip.NewWriter(w)
	cw := csv.NewWriter(gz)
	if err := cw.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return &csvGzipWriter{gz: gz, csv: cw}, nil
}

func (c *csvGzipWriter) Write(r models.SensorReading) error {
	return c.csv.Write(record(r))
}

func (c *csvGzipWriter) Close() error {
	c.csv.Flush()
	if err := c.csv.Error(); err != nil {
		c.gz.Close()
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	if err := c.gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip stream: %w", err)
	}
	return nil
}

// ============================================
// xlsx
// ============================================

type xlsxWriter struct {
	out    io.Writer
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
}

func newXLSXWriter(w io.Writer) (*xlsxWriter, error) {
	f := excelize.NewFile()

	// 1. 重命名默认工作表
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}

	// 2. 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 3. 流式写入，避免整天数据驻留内存
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	return &xlsxWriter{out: w, file: f, stream: sw, row: 1}, nil
}

func (x *xlsxWriter) Write(r models.SensorReading) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	return x.stream.SetRow(cell, []interface{}{
		r.Time.UTC().Format(time.RFC3339), r.SN, r.VRaw, r.PPM, r.Temp, r.Humi, r.Bat, r.RSSI, r.ErrCode, r.Seq,
	})
}

func (x *xlsxWriter) Close() error {
	defer x.file.Close()
	if err := x.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if _, err := x.file.WriteTo(x.out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
