package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"wearsurvey/adapters/excel"
	"wearsurvey/domain/model"
	"wearsurvey/domain/run"
	"wearsurvey/internal/analysis"
	"wearsurvey/internal/config"
	"wearsurvey/internal/container"
	"wearsurvey/internal/report"
	"wearsurvey/internal/testkit"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newAnalyzeCmd() *cobra.Command {
	var dataFile, planFile, outDir string
	var workers int
	var save bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fit, compare and tabulate every parameter in the plan",
		Long: `Fit the six-model family for every parameter in the plan, compare the
models with BH-adjusted likelihood-ratio tests, and write the significance
matrix and prediction tables for the chosen model.

Example: wearsurvey analyze --plan plan.yaml --data survey.xlsx --out results`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("workers") {
				cfg.Analysis.Workers = workers
			}
			if planFile == "" {
				planFile = cfg.Data.PlanFile
			}
			if outDir == "" {
				outDir = cfg.Data.OutputDir
			}

			plan, err := config.LoadPlan(planFile)
			if err != nil {
				return err
			}
			source := firstNonEmpty(dataFile, plan.Source, cfg.Data.DataFile)
			if source == "" {
				return fmt.Errorf("no survey file: pass --data, set source in the plan or DATA_FILE")
			}

			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			reader := excel.NewSurveyReader(plan.Sheet, c.Logger)
			ds, err := reader.ReadSurvey(ctx, source, plan.Schema)
			if err != nil {
				return err
			}

			started := time.Now()
			ar, runErr := c.Analysis.RunPlan(ctx, ds, plan, source)
			if ar == nil {
				return runErr
			}
			fmt.Printf("Analysed %d parameters in %v (%d failed)\n", len(ar.Results), time.Since(started).Round(time.Second), ar.FailedCount())

			if err := writeOutputs(outDir, ar); err != nil {
				return err
			}
			fmt.Printf("Results written to %s\n", outDir)

			if save {
				if err := c.Connect(ctx); err != nil {
					return err
				}
				if c.AnalysisRepo == nil {
					return fmt.Errorf("--save needs DATABASE_URL")
				}
				if err := c.AnalysisRepo.SaveRun(ctx, ar); err != nil {
					return err
				}
				fmt.Printf("Saved run %s\n", ar.ID)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "Survey export (.xlsx or .csv); overrides the plan's source")
	cmd.Flags().StringVar(&planFile, "plan", "", "Analysis plan YAML (default PLAN_FILE)")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().IntVar(&workers, "workers", 1, "Parameters analysed in parallel")
	cmd.Flags().BoolVar(&save, "save", false, "Store the run in the database")
	return cmd
}

func writeOutputs(dir string, ar *run.AnalysisRun) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := excel.WriteWorkbook(filepath.Join(dir, "results.xlsx"), ar); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	md := report.Markdown(ar)
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md), 0o644); err != nil {
		return err
	}
	page, err := report.Page(ar)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "report.html"), page, 0o644); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "run.json"), data, 0o644)
}

func newSimulateCmd() *cobra.Command {
	var out, planOut string
	var subjects int
	var seed int64
	var randomSD, missing float64
	var effects map[string]string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic survey workbook and a matching plan",
		Long: `Draw a synthetic survey from a cumulative logit model with a normal
random intercept per subject.

Example: wearsurvey simulate --subjects 80 --effect chest=1.2 --effect hat=-0.5 --out synthetic.xlsx --plan-out plan.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := testkit.DefaultSurveyConfig()
			sc.SubjectCount = subjects
			sc.Seed = seed
			sc.RandomStdDev = randomSD
			sc.MissingRate = missing
			sc.PositionEffects = make(map[string]float64, len(effects))
			for pos, v := range effects {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("effect %s=%s: %w", pos, v, err)
				}
				sc.PositionEffects[pos] = f
			}

			ds, err := testkit.NewSurveyGenerator(sc).Generate()
			if err != nil {
				return err
			}
			if err := excel.WriteSurvey(out, ds, sc.Schema()); err != nil {
				return err
			}
			fmt.Printf("Wrote %d rows for %d subjects to %s\n", ds.Len(), sc.SubjectCount, out)

			if planOut != "" {
				plan := config.Plan{Source: out, Schema: sc.Schema()}
				for _, p := range sc.Parameters {
					plan.Parameters = append(plan.Parameters, config.ParameterPlan{Name: p, Model: model.M5})
				}
				data, err := yaml.Marshal(plan)
				if err != nil {
					return err
				}
				if _, err := config.ParsePlan(data); err != nil {
					return fmt.Errorf("generated plan is invalid: %w", err)
				}
				if err := os.WriteFile(planOut, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote plan to %s\n", planOut)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "synthetic.xlsx", "Output workbook")
	cmd.Flags().StringVar(&planOut, "plan-out", "", "Also write a plan for the generated survey")
	cmd.Flags().IntVar(&subjects, "subjects", 60, "Number of subjects")
	cmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	cmd.Flags().Float64Var(&randomSD, "random-sd", 0.8, "Standard deviation of the subject random intercept")
	cmd.Flags().Float64Var(&missing, "missing", 0, "Fraction of ratings left blank")
	cmd.Flags().StringToStringVar(&effects, "effect", nil, "Position effect on the latent scale, position=value")
	return cmd
}

func newPredictCmd() *cobra.Command {
	var cutpoints []float64
	var categories []string
	var coefs map[string]string
	var link, reference string
	var percentile, variance float64

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Tabulate category probabilities for given cut-points and coefficients",
		Long: `Compute P(category | setting) for a reference level at 0 and the given
coefficients.

Example: wearsurvey predict --cutpoints -1,1 --categories low,mid,high --coef chest=1 --coef hat=2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := make([]string, 0, len(coefs))
			for name := range coefs {
				names = append(names, name)
			}
			sort.Strings(names)
			values := make([]float64, len(names))
			for i, name := range names {
				v, err := strconv.ParseFloat(coefs[name], 64)
				if err != nil {
					return fmt.Errorf("coefficient %s: %w", name, err)
				}
				values[i] = v
			}
			settings, err := analysis.WithBaseline(reference, names, values)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("percentile") {
				if settings, err = analysis.ScaleByRandomEffectPercentile(settings, percentile, variance); err != nil {
					return err
				}
			}
			l, err := model.ParseLink(link)
			if err != nil {
				return err
			}
			table, err := analysis.PredictProbabilities(settings, cutpoints, categories, l)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "setting\tcoefficient\t%s\n", strings.Join(table.Categories, "\t"))
			for _, r := range table.Rows {
				cells := make([]string, len(r.Probabilities))
				for i, p := range r.Probabilities {
					cells[i] = fmt.Sprintf("%.4f", p)
				}
				fmt.Fprintf(w, "%s\t%.4f\t%s\n", r.Setting, r.Coefficient, strings.Join(cells, "\t"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().Float64SliceVar(&cutpoints, "cutpoints", nil, "Increasing cut-points")
	cmd.Flags().StringSliceVar(&categories, "categories", nil, "Category labels, lowest first")
	cmd.Flags().StringToStringVar(&coefs, "coef", nil, "Coefficient per setting, name=value")
	cmd.Flags().StringVar(&reference, "reference", "reference", "Label of the baseline row")
	cmd.Flags().StringVar(&link, "link", "logit", "Link function: logit, probit or cloglog")
	cmd.Flags().Float64Var(&percentile, "percentile", 0.5, "Scale coefficients by the random-effect percentile")
	cmd.Flags().Float64Var(&variance, "variance", 1, "Random-effect variance used with --percentile")
	_ = cmd.MarkFlagRequired("cutpoints")
	_ = cmd.MarkFlagRequired("categories")
	return cmd
}

func newFormulasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formulas [response]",
		Short: "List the six nested model formulas for a response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "model\tformula\tfiltered\tdescription")
			for _, f := range model.BuildFormulaSet(args[0]) {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", f.ID, f, f.Filtered, f.Description)
			}
			return w.Flush()
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
