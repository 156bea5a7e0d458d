package excel

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"wearsurvey/domain/dataset"
	"wearsurvey/domain/run"
	"wearsurvey/domain/stats"

	"github.com/xuri/excelize/v2"
)

// Excel limits sheet names to 31 characters and forbids a few symbols.
const maxSheetName = 31

var sheetNameReplacer = strings.NewReplacer(":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", "(", "]", ")")

func sheetName(parts ...string) string {
	name := sheetNameReplacer.Replace(strings.Join(parts, " "))
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	return name
}

// WriteSurvey writes ds as a single-sheet workbook laid out by schema, one
// row per observation. Missing ratings are left blank.
func WriteSurvey(path string, ds *dataset.Dataset, schema dataset.Schema) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := []interface{}{schema.SubjectColumn, schema.PositionColumn, schema.SexColumn, schema.SampleColumn}
	for _, sc := range schema.Scales {
		header = append(header, sc.Column)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, o := range ds.Observations {
		row := []interface{}{string(o.Subject), o.Position, o.Sex, o.Sample}
		for _, sc := range schema.Scales {
			if v, ok := o.Rating(sc.Name); ok {
				row = append(row, sc.Categories[v])
			} else {
				row = append(row, nil)
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

// WriteWorkbook exports an analysis run: a comparison sheet covering every
// parameter, then a matrix sheet and a predictions sheet per parameter.
func WriteWorkbook(path string, ar *run.AnalysisRun) error {
	w, err := newWorkbook()
	if err != nil {
		return err
	}
	defer w.f.Close()

	if err := w.comparisonSheet(ar); err != nil {
		return err
	}
	for i := range ar.Results {
		res := &ar.Results[i]
		if res.Matrix != nil {
			if err := w.matrixSheet(res); err != nil {
				return err
			}
		}
		if len(res.Predictions) > 0 {
			if err := w.predictionSheet(res); err != nil {
				return err
			}
		}
	}
	w.f.SetActiveSheet(0)
	return w.f.SaveAs(path)
}

type workbook struct {
	f    *excelize.File
	bold int
}

func newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetSheetName("Sheet1", "Comparison"); err != nil {
		f.Close()
		return nil, err
	}
	return &workbook{f: f, bold: bold}, nil
}

// rows writes a block of rows starting at row `at` and returns the next
// free row. The first row of the block is bold when header is true.
func (w *workbook) rows(sheet string, at int, header bool, rows ...[]interface{}) (int, error) {
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, at+i)
		if err != nil {
			return at, err
		}
		if err := w.f.SetSheetRow(sheet, cell, &r); err != nil {
			return at, err
		}
		if header && i == 0 && len(r) > 0 {
			end, _ := excelize.CoordinatesToCellName(len(r), at)
			if err := w.f.SetCellStyle(sheet, cell, end, w.bold); err != nil {
				return at, err
			}
		}
	}
	return at + len(rows), nil
}

func (w *workbook) comparisonSheet(ar *run.AnalysisRun) error {
	const sheet = "Comparison"
	at, err := w.rows(sheet, 1, false,
		[]interface{}{"Run", ar.ID.String()},
		[]interface{}{"Source", ar.Source},
		[]interface{}{"Fingerprint", ar.Fingerprint.Fingerprint.String()},
	)
	if err != nil {
		return err
	}
	at++
	header := []interface{}{"Parameter", "Test", "Effect", "Models", "Chi-square", "df", "p", "Adjusted p", "Chosen", "Suggested"}
	block := [][]interface{}{header}
	for _, res := range ar.Results {
		if res.Failed() {
			block = append(block, []interface{}{res.Parameter, "error", res.Error})
			continue
		}
		if res.Comparison == nil {
			continue
		}
		for _, t := range res.Comparison.Tests {
			block = append(block, []interface{}{
				res.Parameter, t.Name, t.Effect, fmt.Sprintf("%s vs %s", t.Big, t.Small),
				t.Statistic, t.DF, stats.FormatP(t.PValue), stats.FormatP(t.AdjustedP),
				string(res.ChosenModel), string(res.Suggested),
			})
		}
	}
	_, err = w.rows(sheet, at, true, block...)
	return err
}

func (w *workbook) matrixSheet(res *run.ParameterResult) error {
	sheet := sheetName(res.Parameter, "matrix")
	if _, err := w.f.NewSheet(sheet); err != nil {
		return err
	}
	m := res.Matrix
	at, err := w.rows(sheet, 1, false, []interface{}{
		fmt.Sprintf("%s, model %s, BH over %d (%s), alpha %g", m.Response, m.Model, m.ComparisonCount, m.Scope, m.Alpha),
	})
	if err != nil {
		return err
	}
	if at, err = w.grid(sheet, at+1, m.Levels, m.Cells); err != nil {
		return err
	}
	if len(m.Interaction) > 0 {
		if at, err = w.rows(sheet, at+1, false, []interface{}{fmt.Sprintf("%s x %s interaction", m.Factor, m.Covariate)}); err != nil {
			return err
		}
		if _, err = w.grid(sheet, at+1, m.Levels, m.Interaction); err != nil {
			return err
		}
	}
	return nil
}

// grid writes the adjusted p-values with reference levels as rows and
// compared levels as columns.
func (w *workbook) grid(sheet string, at int, levels []string, cells []stats.MatrixCell) (int, error) {
	lookup := make(map[[2]string]stats.MatrixCell, len(cells))
	for _, c := range cells {
		lookup[[2]string{c.Reference, c.Compared}] = c
	}
	header := []interface{}{"reference \\ compared"}
	for _, l := range levels {
		header = append(header, l)
	}
	block := [][]interface{}{header}
	for _, ref := range levels {
		row := []interface{}{ref}
		for _, cmp := range levels {
			c, ok := lookup[[2]string{ref, cmp}]
			switch {
			case !ok || c.IsDiagonal():
				row = append(row, "")
			case c.Different:
				row = append(row, stats.FormatP(c.AdjustedP)+" *")
			default:
				row = append(row, stats.FormatP(c.AdjustedP))
			}
		}
		block = append(block, row)
	}
	return w.rows(sheet, at, true, block...)
}

func (w *workbook) predictionSheet(res *run.ParameterResult) error {
	sheet := sheetName(res.Parameter, "predictions")
	if _, err := w.f.NewSheet(sheet); err != nil {
		return err
	}
	tables := append([]stats.PredictionTable(nil), res.Predictions...)
	sort.SliceStable(tables, func(i, j int) bool { return variantOrder(tables[i].Variant) < variantOrder(tables[j].Variant) })

	at := 1
	var err error
	for _, t := range tables {
		title := t.Variant
		if t.Percentile > 0 {
			title = fmt.Sprintf("%s (p=%g)", t.Variant, t.Percentile)
		}
		if at, err = w.rows(sheet, at, false, []interface{}{title}); err != nil {
			return err
		}
		header := []interface{}{"setting", "coefficient"}
		for _, c := range t.Categories {
			header = append(header, c)
		}
		block := [][]interface{}{header}
		for _, r := range t.Rows {
			row := []interface{}{r.Setting, round(r.Coefficient, 4)}
			for _, p := range r.Probabilities {
				row = append(row, round(p, 4))
			}
			block = append(block, row)
		}
		if at, err = w.rows(sheet, at, true, block...); err != nil {
			return err
		}
		at++
	}
	return nil
}

func variantOrder(v string) int {
	for i, name := range []string{stats.VariantBaseline, stats.VariantLow, stats.VariantHigh, stats.VariantSubjectLow, stats.VariantSubjectHigh} {
		if v == name {
			return i
		}
	}
	return 99
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
