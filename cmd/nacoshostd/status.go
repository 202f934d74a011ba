package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"nacoshost/internal/config"
	"nacoshost/internal/host"
)

var (
	statusPurple = lipgloss.Color("99")
	statusDim    = lipgloss.Color("243")
	statusFaint  = lipgloss.Color("238")
)

// newStatusCmd renders the configured identifiers and their initial
// gate/weight, reflecting config without starting the host. There is no
// running-daemon query in this binary — the table shows configured state.
func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured identifiers and their initial gate/weight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := config.NewLoader(*configPath, "NACOSHOST")
			cfg, err := loader.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			h, err := host.New(cfg, impls())
			if err != nil {
				return fmt.Errorf("build host: %w", err)
			}

			fmt.Println(renderStatusTable(h.StatusLines()))
			return nil
		},
	}
}

func renderStatusTable(lines []string) string {
	headerStyle := lipgloss.NewStyle().Foreground(statusPurple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, parseStatusLine(l))
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(statusFaint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("identifier", "gate", "weight", "timeout rate", "error rate").
		Rows(rows...)

	return t.String()
}

// parseStatusLine splits a
// "<key>\tgate=<g>\tweight=<w>\ttimeout_rate=<t>\terror_rate=<e>" line into
// columns, tolerating missing trailing fields.
func parseStatusLine(line string) []string {
	parts := strings.Split(line, "\t")
	cols := make([]string, 5)
	for i, p := range parts {
		if i >= len(cols) {
			break
		}
		if eq := strings.IndexByte(p, '='); eq >= 0 {
			cols[i] = p[eq+1:]
		} else {
			cols[i] = p
		}
	}
	return cols
}
