// Package cli provides output helpers for the taleweave command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
	"github.com/hyperjump/taleweave/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// quoteRunes bounds evidence quotes in text output.
const quoteRunes = 120

// ParseFormat parses a -format flag value. Empty means text.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text or json)", s)
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnalysis writes an analysis result in the given format.
func WriteAnalysis(w io.Writer, res *models.AnalysisResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	refined := ""
	if res.Refined {
		refined = ", refined"
	}
	fmt.Fprintf(w, "%s (%s, %s pipeline%s)\n", res.EntityName, res.EntityType, res.Pipeline, refined)
	if res.Window != nil {
		fmt.Fprintf(w, "Focus window: scenes %d-%d\n", res.Window.StartGlobalIndex, res.Window.EndGlobalIndex)
	}
	fmt.Fprintf(w, "\n%s\n\n", res.Description)

	keys := make([]string, 0, len(res.Attributes))
	for k := range res.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := res.Attributes[k]
		if v.Value == nil {
			fmt.Fprintf(w, "  %-24s -\n", k)
			continue
		}
		fmt.Fprintf(w, "  %-24s %s (%.2f, %s)\n", k, *v.Value, v.Confidence, v.TimeState)
		for _, ev := range v.Evidence {
			loc := ev.Location
			if loc == "" {
				loc = ev.DocumentID
			}
			fmt.Fprintf(w, "  %-24s   %q [%s]\n", "", utils.Truncate(ev.Quote, quoteRunes), loc)
		}
	}
	fmt.Fprintf(w, "\n%d context fragments\n", len(res.ContextSources))
	return nil
}

// WriteFocusWindow writes a focus window. A nil window means no scene matched.
func WriteFocusWindow(w io.Writer, win *models.FocusWindow, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"window": win})
	}
	if win == nil {
		fmt.Fprintln(w, "No scene matched; the whole timeline applies.")
		return nil
	}
	fmt.Fprintf(w, "Focus window: scenes %d-%d\n", win.StartGlobalIndex, win.EndGlobalIndex)
	for _, m := range win.MatchedScenes {
		fmt.Fprintf(w, "  scene %-4d %.3f  %s\n", m.GlobalIndex, m.Score, utils.Truncate(m.Summary, 80))
	}
	return nil
}

// WriteDocument writes a document status line.
func WriteDocument(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, doc)
	}
	fmt.Fprintf(w, "%s  %-10s  %s\n", doc.ID, doc.Status, doc.Title)
	if doc.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", doc.Error)
	}
	return nil
}

// WriteUsage writes the budget usage of one day.
func WriteUsage(w io.Writer, date string, usage []*models.BudgetUsage, bypass bool, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"date": date, "bypass": bypass, "usage": usage})
	}
	fmt.Fprintf(w, "Budget usage for %s", date)
	if bypass {
		fmt.Fprint(w, " (limits disabled)")
	}
	fmt.Fprintln(w)
	if len(usage) == 0 {
		fmt.Fprintln(w, "  no requests")
		return nil
	}
	for _, u := range usage {
		name := "task " + u.Task
		if u.Task == "" {
			name = "model " + u.Model
			if u.Provider != "" {
				name += " (" + u.Provider + ")"
			}
		}
		fmt.Fprintf(w, "  %-40s %6d requests  %8d in  %8d out\n", name, u.Requests, u.TokensIn, u.TokensOut)
	}
	return nil
}

// WriteStatus writes the document count and storage footprint.
func WriteStatus(w io.Writer, documents int64, footprint []storage.Footprint, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, map[string]any{"documents": documents, "footprint": footprint})
	}
	fmt.Fprintf(w, "Documents: %d\n", documents)
	var total int64
	for _, f := range footprint {
		total += f.Bytes
		fmt.Fprintf(w, "  %-10s %10s  %s\n", f.Name, FormatBytes(f.Bytes), f.Path)
	}
	fmt.Fprintf(w, "  %-10s %10s\n", "total", FormatBytes(total))
	return nil
}

// FormatBytes renders n in binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
