package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Emin017/RTL2GDS/internal/pipeline"
	"github.com/Emin017/RTL2GDS/internal/step"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("36"))
	styleLabel = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33")).Width(14)
	styleDone  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleNext  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	styleTodo  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleBox   = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
)

type statusView struct {
	RunID         string           `json:"run_id"`
	TopName       string           `json:"top_name"`
	FinishedStage string           `json:"finished_stage"`
	ExpectedStage string           `json:"expected_stage,omitempty"`
	ResultDir     string           `json:"result_dir"`
	Netlist       string           `json:"netlist_file,omitempty"`
	Def           string           `json:"def_file,omitempty"`
	Gds           string           `json:"gds_file,omitempty"`
	DieArea       string           `json:"die_area,omitempty"`
	CoreArea      string           `json:"core_area,omitempty"`
	CoreUtil      float64          `json:"core_util,omitempty"`
	Metrics       pipeline.Metrics `json:"metrics"`
	LastUpdate    string           `json:"last_update,omitempty"`
}

func newStatusView(s *pipeline.DesignState) statusView {
	v := statusView{
		RunID:         s.RunID,
		TopName:       s.TopName,
		FinishedStage: string(s.FinishedStage),
		ExpectedStage: string(s.ExpectedStage()),
		ResultDir:     s.ResultDir,
		Netlist:       s.NetlistPath,
		Def:           s.DefPath,
		Gds:           s.GdsPath,
		CoreUtil:      s.Constraint.CoreUtilization,
		Metrics:       s.Metrics,
	}
	if s.Constraint.DieBox != nil {
		v.DieArea = s.Constraint.DieBox.String()
	}
	if s.Constraint.CoreBox != nil {
		v.CoreArea = s.Constraint.CoreBox.String()
	}
	if !s.LastUpdate.IsZero() {
		v.LastUpdate = s.LastUpdate.Local().Format("2006-01-02 15:04:05")
	}
	return v
}

// progressLine renders the flow with finished stages ticked and the next
// stage highlighted.
func progressLine(s *pipeline.DesignState) string {
	next := s.ExpectedStage()
	parts := make([]string, 0, len(step.Order())-1)
	for _, id := range step.Order()[1:] {
		switch {
		case id == s.FinishedStage || step.After(s.FinishedStage, id):
			parts = append(parts, styleDone.Render("✓ "+string(id)))
		case id == next:
			parts = append(parts, styleNext.Render("▶ "+string(id)))
		default:
			parts = append(parts, styleTodo.Render("· "+string(id)))
		}
	}
	return strings.Join(parts, "  ")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the progress and metrics of a design",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := loadDesign(cmd)
		if err != nil {
			return err
		}
		v := newStatusView(state)

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal json: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		var b strings.Builder
		b.WriteString(styleTitle.Render(v.TopName) + "  " + styleTodo.Render(v.RunID) + "\n\n")
		b.WriteString(progressLine(state) + "\n\n")
		row := func(label, value string) {
			if value != "" {
				b.WriteString(styleLabel.Render(label) + value + "\n")
			}
		}
		row("Result dir", v.ResultDir)
		row("Netlist", v.Netlist)
		row("DEF", v.Def)
		row("GDS", v.Gds)
		row("Die area", v.DieArea)
		row("Core area", v.CoreArea)
		if v.CoreUtil > 0 {
			row("Core util", fmt.Sprintf("%.3f", v.CoreUtil))
		}
		m := v.Metrics
		if m.InstanceCount > 0 {
			row("Instances", fmt.Sprintf("%d", m.InstanceCount))
		}
		if m.CellArea > 0 {
			row("Cell area", fmt.Sprintf("%.2f", m.CellArea))
		}
		if m.CoreUtilization > 0 {
			row("Measured util", fmt.Sprintf("core %.3f, die %.3f", m.CoreUtilization, m.DieUtilization))
		}
		row("Updated", v.LastUpdate)

		fmt.Fprintln(cmd.OutOrStdout(), styleBox.Render(strings.TrimRight(b.String(), "\n")))
		return nil
	},
}

func init() {
	addDesignFlag(statusCmd)
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
