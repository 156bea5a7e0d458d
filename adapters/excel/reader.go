package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wearsurvey/domain/core"
	"wearsurvey/domain/dataset"
	"wearsurvey/internal"
	"wearsurvey/ports"

	"github.com/xuri/excelize/v2"
)

// SurveyReader reads cleaned survey exports from .xlsx or .csv files. One
// row is one subject rating the device at one wearing position.
type SurveyReader struct {
	// Sheet is the worksheet to read; empty means the first sheet.
	Sheet  string
	logger *internal.Logger
}

var _ ports.SurveyReader = (*SurveyReader)(nil)

// NewSurveyReader creates a reader.
func NewSurveyReader(sheet string, logger *internal.Logger) *SurveyReader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &SurveyReader{Sheet: sheet, logger: logger.WithComponent("DataReader")}
}

// ReadSurvey implements ports.SurveyReader.
func (r *SurveyReader) ReadSurvey(ctx context.Context, path string, schema dataset.Schema) (*dataset.Dataset, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("survey file not found: %s", path)
	}

	start := time.Now()
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm":
		rows, err = r.readWorkbook(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds, err := ParseRows(rows, schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	r.logger.Info("read %s: %d rows, %d subjects in %.2fms",
		filepath.Base(path), ds.Len(), len(ds.SubjectIDs()), float64(time.Since(start).Nanoseconds())/1e6)
	return ds, nil
}

func (r *SurveyReader) readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	r.logger.Debug("sheet %s: %d rows", sheet, len(rows))
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return rows, nil
}

// ParseRows converts a header row plus data rows into a dataset. Factor
// values are matched to the schema's levels ignoring case and surrounding
// space; blank rows are skipped.
func ParseRows(rows [][]string, schema dataset.Schema) (*dataset.Dataset, error) {
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need a header row and at least one data row", core.ErrInsufficientData)
	}
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	column := func(name string) (int, error) {
		i, ok := index[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("column %q not found in header", name)
		}
		return i, nil
	}

	var cols struct{ subject, position, sex, sample int }
	var err error
	if cols.subject, err = column(schema.SubjectColumn); err != nil {
		return nil, err
	}
	if cols.position, err = column(schema.PositionColumn); err != nil {
		return nil, err
	}
	if cols.sex, err = column(schema.SexColumn); err != nil {
		return nil, err
	}
	if cols.sample, err = column(schema.SampleColumn); err != nil {
		return nil, err
	}
	scaleCols := make([]int, len(schema.Scales))
	for i, sc := range schema.Scales {
		if scaleCols[i], err = column(sc.Column); err != nil {
			return nil, err
		}
	}

	ds := schema.Empty()
	cell := func(row []string, i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}
	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		obs := dataset.Observation{
			Subject: core.SubjectID(cell(row, cols.subject)),
			Ratings: make(map[string]int, len(schema.Scales)),
		}
		if obs.Subject == "" {
			return nil, fmt.Errorf("row %d: empty subject id", line)
		}
		if obs.Position, err = matchLevel(ds.Position, cell(row, cols.position)); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if obs.Sex, err = matchLevel(ds.Sex, cell(row, cols.sex)); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if obs.Sample, err = matchLevel(ds.Sample, cell(row, cols.sample)); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		for i, sc := range schema.Scales {
			v, ok, err := sc.ParseRating(cell(row, scaleCols[i]))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", line, err)
			}
			if ok {
				obs.Ratings[sc.Name] = v
			}
		}
		ds.Observations = append(ds.Observations, obs)
	}
	if ds.Len() == 0 {
		return nil, fmt.Errorf("%w: no data rows", core.ErrInsufficientData)
	}
	return ds, ds.Validate()
}

func matchLevel(f dataset.Factor, value string) (string, error) {
	for _, lvl := range f.Levels {
		if strings.EqualFold(lvl, value) {
			return lvl, nil
		}
	}
	return "", fmt.Errorf("%w: %s=%q", core.ErrUnknownLevel, f.Name, value)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
