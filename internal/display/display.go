package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dyike/SentiTrader/consts"
	"github.com/dyike/SentiTrader/internal/models"
	"github.com/dyike/SentiTrader/internal/pipeline"
	"github.com/dyike/SentiTrader/internal/utils"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1F2937")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1).
			Width(80)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// RunSummary renders one pipeline pass for the terminal.
func RunSummary(res *pipeline.RunResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("📊 Run %s", shortID(res.RunID))))
	b.WriteString("\n")

	a := res.Analysis
	stats := fmt.Sprintf("📥 fetched %d | 🧠 judged %d | 💾 cached %d | ♻️  duplicate %d | ⏳ stale %d | 🚫 no ticker %d | ❌ failed %d",
		a.Fetched, a.Judged, a.Cached, a.Duplicates, a.Stale, a.NoTicker, a.Failed)
	if a.Fallbacks > 0 {
		stats += fmt.Sprintf("\n⚠️  %d neutral fallbacks", a.Fallbacks)
	}
	stats += fmt.Sprintf("\n⏱️  %s | mode %s", res.Duration.Round(time.Millisecond), res.Mode)
	b.WriteString(panelStyle.Render(stats))
	b.WriteString("\n")

	b.WriteString(Aggregates(res.Aggregates))

	if res.Trade != nil {
		b.WriteString(Orders(res.Trade))
	}
	if res.TradeErr != nil {
		b.WriteString(negativeStyle.Render("❌ trading skipped: " + res.TradeErr.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// Aggregates renders the per-ticker scores in the given order.
func Aggregates(aggs []*models.TickerAggregate) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("📈 SENTIMENT"))
	b.WriteString("\n")
	if len(aggs) == 0 {
		b.WriteString(mutedStyle.Render("   (no tickers this run)"))
		b.WriteString("\n")
		return b.String()
	}
	for _, agg := range aggs {
		line := fmt.Sprintf("   %-6s %+.3f  (%d posts)", agg.Ticker, agg.Score, agg.PostCount)
		b.WriteString(scoreStyle(agg.Score).Render(line))
		b.WriteString("\n")
		for _, p := range agg.Posts {
			b.WriteString(mutedStyle.Render(fmt.Sprintf("      • %s [%s %+.2f @ %.2f]",
				utils.Snippet(p.Title, 60), p.Sentiment, p.Score, p.Confidence)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func Orders(report *pipeline.TradeReport) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("💼 ORDERS (cash $%.2f)", report.Cash)))
	b.WriteString("\n")
	for _, out := range report.Outcomes {
		d := out.Decision
		line := fmt.Sprintf("   %s %-6s %-4s %4d @ $%.2f  %s", sideEmoji(d.Side), d.Ticker, d.Side, d.Quantity, d.Price, out.Status)
		if out.Err != nil {
			line += " (" + out.Err.Error() + ")"
		}
		style := mutedStyle
		switch out.Status {
		case consts.Order_Submitted, consts.Order_DryRun:
			style = positiveStyle
		case consts.Order_Rejected:
			style = negativeStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("   placed %d | dry run %d | skipped %d | failed %d\n",
		report.Placed, report.DryRun, report.Skipped, report.Failed))
	return b.String()
}

// Ledger renders ledger entries, newest last.
func Ledger(entries []models.LedgerEntry) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("📒 LEDGER (%d posts)", len(entries))))
	b.WriteString("\n")
	for _, e := range entries {
		b.WriteString(fmt.Sprintf("   %s  %-8s %-6s %+.3f  %s\n",
			e.ProcessedAt.Local().Format("2006-01-02 15:04"), e.PostID, e.Ticker, e.WeightedScore, utils.Snippet(e.TitleSnippet, 50)))
	}
	return b.String()
}

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score > 0:
		return positiveStyle
	case score < 0:
		return negativeStyle
	}
	return mutedStyle
}

func sideEmoji(side models.Side) string {
	switch side {
	case models.SideBuy:
		return "🟢"
	case models.SideSell:
		return "🔴"
	}
	return "⚪"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// DisplayError shows formatted error messages
func DisplayError(w io.Writer, err error, context string) {
	fmt.Fprintf(w, "❌ Error in %s:\n", context)
	fmt.Fprintf(w, "   %v\n", err)
	fmt.Fprintln(w, "   💡 Check your configuration and API keys")
}

func DisplayWarning(w io.Writer, message string) {
	fmt.Fprintf(w, "⚠️  Warning: %s\n", message)
}

func DisplaySuccess(w io.Writer, message string) {
	fmt.Fprintf(w, "✅ %s\n", message)
}

func DisplayInfo(w io.Writer, message string) {
	fmt.Fprintf(w, "ℹ️  %s\n", message)
}

// SaveResultsToFile writes the run's aggregates and orders as JSON.
func SaveResultsToFile(res *pipeline.RunResult, path string) error {
	result := map[string]any{
		"metadata": map[string]any{
			"run_id":     res.RunID,
			"mode":       res.Mode,
			"started_at": res.StartedAt.Format(time.RFC3339),
			"duration":   res.Duration.String(),
		},
		"analysis":   res.Analysis,
		"aggregates": res.Aggregates,
	}
	if res.Trade != nil {
		orders := make([]map[string]any, 0, len(res.Trade.Outcomes))
		for _, out := range res.Trade.Outcomes {
			o := map[string]any{"decision": out.Decision, "status": out.Status}
			if out.Confirmation != nil {
				o["confirmation"] = out.Confirmation
			}
			if out.Err != nil {
				o["error"] = out.Err.Error()
			}
			orders = append(orders, o)
		}
		result["orders"] = orders
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
