package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"wearsurvey/domain/run"
	"wearsurvey/domain/stats"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders an analysis run as a markdown document.
func Markdown(ar *run.AnalysisRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Wearable survey analysis\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", ar.ID)
	if ar.Source != "" {
		fmt.Fprintf(&b, "- Source: %s\n", ar.Source)
	}
	fmt.Fprintf(&b, "- Created: %s\n", ar.CreatedAt)
	fmt.Fprintf(&b, "- Fingerprint: `%s` (code %s)\n", short(ar.Fingerprint.Fingerprint.String()), ar.Fingerprint.CodeVersion)
	if n := ar.FailedCount(); n > 0 {
		fmt.Fprintf(&b, "- **%d of %d parameters failed**\n", n, len(ar.Results))
	}
	b.WriteString("\n")
	for i := range ar.Results {
		b.WriteString(ParameterMarkdown(&ar.Results[i]))
	}
	return b.String()
}

// ParameterMarkdown renders one parameter's section.
func ParameterMarkdown(res *run.ParameterResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", res.Parameter)
	if res.Failed() {
		fmt.Fprintf(&b, "Analysis failed: %s\n\n", res.Error)
	}
	if res.Suggested != "" {
		fmt.Fprintf(&b, "Chosen model **%s**; the likelihood-ratio tests suggest **%s**.\n\n", res.ChosenModel, res.Suggested)
	}

	if len(res.Fits) > 0 {
		b.WriteString("### Fitted models\n\n")
		b.WriteString("| Model | Formula | logLik | AIC | Params | Obs | Subjects | Random variance |\n")
		b.WriteString("|---|---|---:|---:|---:|---:|---:|---:|\n")
		for _, f := range res.Fits {
			fmt.Fprintf(&b, "| %s | `%s` | %.2f | %.2f | %d | %d | %d | %.3f |\n",
				f.Model, f.Formula, f.LogLik, f.AIC, f.NumParams, f.NumObs, f.NumSubjects, f.RandomVariance)
		}
		b.WriteString("\n")
	}

	if c := res.Comparison; c != nil {
		fmt.Fprintf(&b, "### Model comparison (%s over %d tests)\n\n", c.Method, c.ComparisonCount)
		b.WriteString("| Test | Effect | Models | Chi-square | df | p | Adjusted p |\n")
		b.WriteString("|---|---|---|---:|---:|---:|---:|\n")
		for _, t := range c.Tests {
			fmt.Fprintf(&b, "| %s | %s | %s vs %s | %.3f | %d | %s | %s |\n",
				t.Name, t.Effect, t.Big, t.Small, t.Statistic, t.DF, stats.FormatP(t.PValue), stats.FormatP(t.AdjustedP))
		}
		b.WriteString("\n")
	}

	if m := res.Matrix; m != nil {
		fmt.Fprintf(&b, "### Pairwise %s contrasts (%s, BH over %d, %s)\n\n", m.Factor, m.Model, m.ComparisonCount, m.Scope)
		b.WriteString(matrixTable(m.Levels, m.Cells))
		if len(m.Interaction) > 0 {
			fmt.Fprintf(&b, "\n%s x %s interaction:\n\n", m.Factor, m.Covariate)
			b.WriteString(matrixTable(m.Levels, m.Interaction))
		}
		fmt.Fprintf(&b, "\nCells marked * differ at adjusted p <= %g.\n\n", m.Alpha)
	}

	for _, t := range res.Predictions {
		title := t.Variant
		if t.Percentile > 0 {
			title = fmt.Sprintf("%s, percentile %g", t.Variant, t.Percentile)
		}
		fmt.Fprintf(&b, "### Predicted probabilities (%s)\n\n", title)
		b.WriteString("| Setting |")
		sep := "|---|"
		for _, c := range t.Categories {
			fmt.Fprintf(&b, " %s |", c)
			sep += "---:|"
		}
		b.WriteString("\n" + sep + "\n")
		for _, r := range t.Rows {
			fmt.Fprintf(&b, "| %s |", r.Setting)
			for _, p := range r.Probabilities {
				fmt.Fprintf(&b, " %.3f |", p)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if re := res.RandomEffect; re != nil {
		b.WriteString("### Subject random effects\n\n")
		fmt.Fprintf(&b, "%d subjects, variance %.3f, modes from %.2f to %.2f (median %.2f), normality p %s, %d outliers, shrinkage %.0f%%.\n\n",
			re.Subjects, re.Variance, re.Min, re.Max, re.Median, stats.FormatP(re.NormalityP), re.OutlierCount, 100*re.ShrinkageRate)
	}
	return b.String()
}

func matrixTable(levels []string, cells []stats.MatrixCell) string {
	lookup := make(map[[2]string]stats.MatrixCell, len(cells))
	for _, c := range cells {
		lookup[[2]string{c.Reference, c.Compared}] = c
	}
	var b strings.Builder
	b.WriteString("| reference |")
	sep := "|---|"
	for _, l := range levels {
		fmt.Fprintf(&b, " %s |", l)
		sep += "---:|"
	}
	b.WriteString("\n" + sep + "\n")
	for _, ref := range levels {
		fmt.Fprintf(&b, "| %s |", ref)
		for _, cmp := range levels {
			c, ok := lookup[[2]string{ref, cmp}]
			switch {
			case !ok || c.IsDiagonal():
				b.WriteString("  |")
			case c.Different:
				fmt.Fprintf(&b, " %s * |", stats.FormatP(c.AdjustedP))
			default:
				fmt.Fprintf(&b, " %s |", stats.FormatP(c.AdjustedP))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// ToHTML converts markdown to an HTML fragment.
func ToHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	return markdown.ToHTML([]byte(md), p, renderer)
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 70em; margin: 2em auto; }
table { border-collapse: collapse; margin-bottom: 1em; }
th, td { border: 1px solid #ccc; padding: 0.2em 0.6em; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Page wraps the run's report in a standalone HTML page.
func Page(ar *run.AnalysisRun) ([]byte, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, struct {
		Title string
		Body  template.HTML
	}{
		Title: fmt.Sprintf("Analysis %s", ar.ID),
		Body:  template.HTML(ToHTML(Markdown(ar))),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func short(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
