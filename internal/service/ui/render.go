package ui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/sandevgo/capassist/internal/service/response"
)

// RenderResponse writes a generated response for a terminal. Explain adds
// the reasoning trace and the verification verdicts when present.
func RenderResponse(w io.Writer, r response.Response, explain bool) error {
	fmt.Fprintln(w, AnswerStyle.Render(r.Text))
	if r.Error != "" {
		fmt.Fprintln(w, WarnStyle.Render("! "+r.Error))
	}

	for _, v := range r.Visualizations {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render(v.Title))
		table := tablewriter.NewWriter(w)
		table.Header("Label", "Value")
		for _, label := range slices.Sorted(maps.Keys(v.Data)) {
			if err := table.Append(label, strconv.FormatFloat(v.Data[label], 'f', -1, 64)); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
		if v.Description.Main != "" {
			fmt.Fprintln(w, DescStyle.Render(v.Description.Main))
		}
		if v.Description.Insight != "" {
			fmt.Fprintln(w, DescStyle.Render(v.Description.Insight))
		}
	}

	if explain && r.Reasoning != nil {
		if err := renderReasoning(w, r); err != nil {
			return err
		}
	}

	if len(r.SuggestedActions) > 0 {
		fmt.Fprintln(w)
		for _, a := range r.SuggestedActions {
			fmt.Fprintln(w, ActionStyle.Render("→ "+a.Label))
		}
	}

	if explain {
		fmt.Fprintln(w, DescStyle.Render(fmt.Sprintf("path=%s request=%s %dms", r.Path, r.RequestID, r.ProcessingTime)))
	}
	return nil
}

func renderReasoning(w io.Writer, r response.Response) error {
	steps := r.Reasoning.Reasoning.Steps
	if len(steps) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, TitleStyle.Render("Reasoning"))
		table := tablewriter.NewWriter(w)
		table.Header("#", "Type", "Description", "OK")
		for _, s := range steps {
			if err := table.Append(strconv.Itoa(s.StepNumber), string(s.Type), s.Description, strconv.FormatBool(s.Success)); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	v := r.Reasoning.Verification
	if v == nil || len(v.Statements) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Verification (%.0f%%)", v.Confidence*100)))
	table := tablewriter.NewWriter(w)
	table.Header("Statement", "Status", "Correction")
	for _, st := range v.Statements {
		if err := table.Append(st.Text, string(st.Status), st.SuggestedCorrection); err != nil {
			return err
		}
	}
	return table.Render()
}
