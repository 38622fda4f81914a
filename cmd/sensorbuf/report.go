package main

import (
	"fmt"
	"strings"
	"time"

	"sensorbuf/internal/config"
	"sensorbuf/internal/coordinator"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#8BC34A")
	muted  = lipgloss.Color("#2a3850")

	bannerStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Padding(0, 1).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted)
)

func bannerText(c *config.Config) string {
	if c == nil {
		c = config.DefaultConfig()
	}
	return fmt.Sprintf("%s v%s", c.Name, c.Version)
}

func renderBanner(c *config.Config) string {
	return bannerStyle.Render(bannerText(c))
}

// renderReport formats a completed run. "text" keeps the classic one-line
// output; "markdown" renders a summary through glamour.
func renderReport(res coordinator.Result, format string) (string, error) {
	if format != "markdown" {
		return fmt.Sprintf("Average reading: %f\n", res.Average), nil
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Sensor run\n\n")
	fmt.Fprintf(&md, "Run `%s`\n\n", res.RunID)
	fmt.Fprintf(&md, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&md, "| Samples | %d |\n", res.Samples)
	fmt.Fprintf(&md, "| Workers | %d |\n", res.Workers)
	fmt.Fprintf(&md, "| Delta | %d |\n", res.Delta)
	fmt.Fprintf(&md, "| Granularity | %s |\n", res.Granularity)
	fmt.Fprintf(&md, "| Initial average | %f |\n", res.InitialAverage)
	fmt.Fprintf(&md, "| Average reading | %f |\n", res.Average)
	fmt.Fprintf(&md, "| Elapsed | %s |\n", res.Elapsed.Round(time.Microsecond))

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := renderer.Render(md.String())
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return out, nil
}
