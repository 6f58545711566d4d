// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Prescayc21

package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Prescayc21/SkeletonSledController/pkg/balance"
	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
	"github.com/Prescayc21/SkeletonSledController/pkg/session"
	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

var (
	trayWeights    string
	trayMaxWeight  float64
	trayWeightUnit string
	trayThreshold  float64
	trayNoFront    bool
	trayNoBack     bool
	trayBiasX      float64
	trayBiasY      float64
	trayJSON       bool
)

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Plan ballast weight placement",
	Long: `Compute where to place ballast weights so the center of mass moves
toward the ideal position.

Current loads come from the sled (a live reading is averaged), or from
--weights to plan offline. The total weight cap (--max-weight) bounds
how much ballast can be added on top of the current load; each ballast
weight is 113 g.

The result shows each tray as a grid: X marks a slot that gets a weight,
with brighter marks for slots contributing more improvement.`,
	RunE: runTray,
}

func init() {
	trayCmd.Flags().StringVar(&trayWeights, "weights", "", "Current loads in grams as \"a,b,c,d\" (default: read from sled)")
	trayCmd.Flags().Float64Var(&trayMaxWeight, "max-weight", 0, "Total weight cap (load plus ballast), required")
	trayCmd.Flags().StringVar(&trayWeightUnit, "weight-unit", "g", "Unit of --max-weight (g, kg, oz, lb)")
	trayCmd.Flags().Float64Var(&trayThreshold, "threshold", 0, "Drop slots below this fraction of the best improvement (0-1)")
	trayCmd.Flags().BoolVar(&trayNoFront, "no-front", false, "Disable the front tray")
	trayCmd.Flags().BoolVar(&trayNoBack, "no-back", false, "Disable the back tray")
	trayCmd.Flags().Float64Var(&trayBiasX, "bias-x", 0, "Shift the ideal COM along X")
	trayCmd.Flags().Float64Var(&trayBiasY, "bias-y", 0, "Shift the ideal COM along Y")
	trayCmd.Flags().BoolVar(&trayJSON, "json", false, "Emit the layout as JSON")
	rootCmd.AddCommand(trayCmd)
}

func runTray(cmd *cobra.Command, args []string) error {
	settings, err := balance.LoadRigSettings(settingsPath)
	if err != nil {
		return err
	}

	unit, err := calibration.ParseUnit(trayWeightUnit)
	if err != nil {
		return err
	}
	if trayThreshold < 0 || trayThreshold > 1 {
		return fmt.Errorf("threshold must be in [0, 1]")
	}
	if trayMaxWeight <= 0 {
		return fmt.Errorf("a positive --max-weight is required")
	}

	var weights []float64
	if trayWeights != "" {
		weights, err = parseWeightsList(trayWeights)
	} else {
		weights, err = readLiveWeights()
	}
	if err != nil {
		return err
	}

	layout := balance.OptimizeTrayLayout(balance.TrayRequest{
		Weights:       weights,
		Bias:          balance.Point{X: trayBiasX, Y: trayBiasY},
		Settings:      settings,
		Front:         !trayNoFront,
		Back:          !trayNoBack,
		MaxWeight:     trayMaxWeight,
		MaxWeightUnit: unit,
		Threshold:     trayThreshold,
	})

	if trayJSON {
		out, err := json.MarshalIndent(layout, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printLayout(weights, settings, layout)
	return nil
}

func parseWeightsList(input string) ([]float64, error) {
	parts := strings.Split(input, ",")
	if len(parts) != sledwire.ChannelCount {
		return nil, fmt.Errorf("expected %d weights, got %d", sledwire.ChannelCount, len(parts))
	}
	weights := make([]float64, len(parts))
	for i, p := range parts {
		w, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q", p)
		}
		if w < 0 {
			return nil, fmt.Errorf("weight %q is negative", p)
		}
		weights[i] = w
	}
	return weights, nil
}

// readLiveWeights connects to the sled and averages a short window of
// readings, converted to grams.
func readLiveWeights() ([]float64, error) {
	profile, err := loadProfile()
	if err != nil {
		return nil, err
	}

	s, err := openSession(session.Config{Profile: profile})
	if err != nil {
		return nil, err
	}
	defer s.Stop()

	events, cancel := s.Subscribe(64)
	defer cancel()

	const frames = 5
	sums := make([]float64, sledwire.ChannelCount)
	counts := make([]int, sledwire.ChannelCount)
	collected := 0

	deadline := time.After(10 * time.Second)
	s.RequestRead()

	for collected < frames*sledwire.ChannelCount {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, fmt.Errorf("session closed")
			}
			if ev.Kind == session.EventCalibrationError {
				return nil, fmt.Errorf("uncalibrated channel: %w", ev.Err)
			}
			if ev.Kind != session.EventSample {
				continue
			}
			ch := ev.Sample.Channel
			if int(ch) >= sledwire.ChannelCount || counts[ch] >= frames {
				continue
			}
			sums[ch] += calibration.ConvertUnit(ev.Sample.Value, ev.Sample.Unit, calibration.UnitGrams)
			counts[ch]++
			collected++
			if ch == sledwire.ChannelCount-1 && collected < frames*sledwire.ChannelCount {
				s.RequestRead()
			}

		case <-deadline:
			return nil, fmt.Errorf("timeout reading weights from sled")
		}
	}

	weights := make([]float64, sledwire.ChannelCount)
	for i := range weights {
		weights[i] = sums[i] / float64(counts[i])
	}
	return weights, nil
}

func printLayout(weights []float64, settings balance.RigSettings, layout balance.TrayLayout) {
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	com := balance.CenterOfMass(weights, settings.SensorPositions)
	before := balance.Displacement(com, settings.IdealCOM).Magnitude()

	fmt.Printf("%s %v g\n", labelStyle.Render("Current loads:"), formatWeights(weights))
	fmt.Printf("%s (%.2f, %.2f)  %s (%.2f, %.2f)\n",
		labelStyle.Render("COM:"), com.X, com.Y,
		labelStyle.Render("Ideal:"), settings.IdealCOM.X, settings.IdealCOM.Y)
	fmt.Printf("%s %.2f -> %s\n\n",
		labelStyle.Render("Displacement:"), before,
		valueStyle.Render(fmt.Sprintf("%.2f", layout.Displacement)))

	placed := 0
	if layout.FrontTray != nil {
		placed += countPlacements(layout.FrontTray)
		fmt.Println(labelStyle.Render("Front tray:"))
		fmt.Println(renderTray(layout.FrontTray, layout.FrontEffect))
	}
	if layout.BackTray != nil {
		placed += countPlacements(layout.BackTray)
		fmt.Println(labelStyle.Render("Back tray:"))
		fmt.Println(renderTray(layout.BackTray, layout.BackEffect))
	}

	fmt.Printf("%s %d weights (%.0f g ballast), total %.0f g\n",
		labelStyle.Render("Placed:"), placed, float64(placed)*balance.EffectWeightGrams, layout.TotalWeight)
	if placed == 0 {
		fmt.Println(headerStyle.Render("No placement improves the balance within the constraints."))
	}
}

func formatWeights(weights []float64) string {
	parts := make([]string, len(weights))
	for i, w := range weights {
		parts[i] = fmt.Sprintf("%.0f", w)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func countPlacements(grid [][]int) int {
	n := 0
	for _, row := range grid {
		for _, cell := range row {
			n += cell
		}
	}
	return n
}

// renderTray draws the grid with placed slots shaded by their relative
// improvement.
func renderTray(grid [][]int, effect [][]float64) string {
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	lowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var b strings.Builder
	for r, row := range grid {
		cells := make([]string, len(row))
		for c, v := range row {
			switch {
			case v == 0:
				cells[c] = emptyStyle.Render("·")
			case effect[r][c] >= 0.75:
				cells[c] = highStyle.Render("X")
			default:
				cells[c] = lowStyle.Render("x")
			}
		}
		b.WriteString(strings.Join(cells, " "))
		if r < len(grid)-1 {
			b.WriteString("\n")
		}
	}
	return boxStyle.Render(b.String())
}
