package fit

import (
	"encoding/csv"
	"io"
	"strconv"
)

const naToken = "NA"

func formatFloat(v float64) string {
	if !isFinite(v) {
		return naToken
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return naToken
	}
	return formatFloat(*v)
}

// WriteParamsCSV writes one row per fitted partition.
func WriteParamsCSV(w io.Writer, fc *FitCollection) error {
	cw := csv.NewWriter(w)
	header := append([]string{"id"}, fc.Info.ParamNames...)
	header = append(header, "rss", fc.Info.Criterion, "r2", "n", "trials", "stall")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range fc.Params {
		rec := []string{r.ID}
		for _, name := range fc.Info.ParamNames {
			rec = append(rec, formatFloat(r.Params[name]))
		}
		rec = append(rec,
			formatFloat(r.RSS),
			formatFloat(r.Score),
			formatOptional(r.R2),
			strconv.Itoa(r.N),
			strconv.Itoa(r.Trials),
			strconv.Itoa(r.Stall),
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePredictionsCSV writes the prediction curves, named after the primary
// predictor and the response.
func WritePredictionsCSV(w io.Writer, fc *FitCollection) error {
	cw := csv.NewWriter(w)
	x := "x"
	if len(fc.Info.Predictors) > 0 {
		x = fc.Info.Predictors[0]
	}
	y := fc.Info.Response
	if y == "" {
		y = "y"
	}
	if err := cw.Write([]string{"id", x, y}); err != nil {
		return err
	}
	for _, p := range fc.Predictions {
		if err := cw.Write([]string{p.ID, formatFloat(p.X), formatFloat(p.Y)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFailuresCSV writes one row per failed partition.
func WriteFailuresCSV(w io.Writer, fc *FitCollection) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "reason", "trials", "n", "detail"}); err != nil {
		return err
	}
	for _, f := range fc.Failures {
		if err := cw.Write([]string{f.ID, f.Reason, strconv.Itoa(f.Trials), strconv.Itoa(f.N), f.Detail}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConfIntCSV writes confidence interval rows.
func WriteConfIntCSV(w io.Writer, rows []ConfIntRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "param", "estimate", "std_error", "conf_low", "conf_high"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			r.ID,
			r.Param,
			formatFloat(r.Estimate),
			formatOptional(r.StdErr),
			formatOptional(r.Lower),
			formatOptional(r.Upper),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
