// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package balance

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Prescayc21/SkeletonSledController/pkg/calibration"
)

// EffectWeightGrams is the mass of one standard ballast weight; every
// tray slot holds exactly one.
const EffectWeightGrams = 113.0

// TrayRequest parameterizes a ballast layout computation.
type TrayRequest struct {
	// Weights are the current calibrated loads in grams, one per cell,
	// aligned with Settings.SensorPositions.
	Weights []float64

	// Bias shifts the ideal center of mass before optimizing.
	Bias Point

	Settings RigSettings

	// Front/Back enable the respective trays.
	Front bool
	Back  bool

	// MaxWeight caps the total sled weight (load plus ballast).
	MaxWeight     float64
	MaxWeightUnit calibration.Unit

	// Threshold in (0, 1] drops candidate slots whose improvement falls
	// below that fraction of the best slot's. Zero disables filtering.
	Threshold float64
}

// TrayLayout is the planned ballast placement. Tray grids hold 1 where a
// weight goes; effect maps hold each placed slot's improvement normalized
// to the best placed slot.
type TrayLayout struct {
	FrontTray   [][]int     `json:"front_tray"`
	BackTray    [][]int     `json:"back_tray"`
	FrontEffect [][]float64 `json:"front_effect"`
	BackEffect  [][]float64 `json:"back_effect"`

	FinalCOM     Point   `json:"final_com"`
	Displacement float64 `json:"displacement"`
	TotalWeight  float64 `json:"total_weight"`
}

type traySlot struct {
	front       bool
	row, col    int
	pos         Point
	improvement float64
}

// OptimizeTrayLayout greedily fills tray slots with ballast weights,
// best displacement improvement first, until the weight cap or the
// candidate list runs out.
func OptimizeTrayLayout(req TrayRequest) TrayLayout {
	ideal := req.Settings.IdealCOM.Add(req.Bias)
	maxWeightG := calibration.ConvertUnit(req.MaxWeight, req.MaxWeightUnit, calibration.UnitGrams)

	var initialWeight float64
	for _, w := range req.Weights {
		initialWeight += w
	}
	available := maxWeightG - initialWeight

	layout := TrayLayout{}
	if req.Front {
		layout.FrontTray, layout.FrontEffect = emptyGrid(req.Settings.FrontTray)
	}
	if req.Back {
		layout.BackTray, layout.BackEffect = emptyGrid(req.Settings.BackTray)
	}

	positions := req.Settings.SensorPositions
	currentCOM := CenterOfMass(req.Weights, positions)

	if available <= 0 {
		logrus.WithFields(logrus.Fields{
			"initial_g": initialWeight,
			"max_g":     maxWeightG,
		}).Warn("Already at weight limit, no ballast added")
		layout.FinalCOM = currentCOM
		layout.Displacement = Displacement(currentCOM, ideal).Magnitude()
		layout.TotalWeight = initialWeight
		return layout
	}

	originalDisp := Displacement(currentCOM, ideal).Magnitude()

	var slots []traySlot
	if req.Front {
		slots = append(slots, slotPositions(req.Settings.FrontTray, true)...)
	}
	if req.Back {
		slots = append(slots, slotPositions(req.Settings.BackTray, false)...)
	}

	// Score each slot by how much one weight there shrinks the
	// displacement, as a fraction of the current displacement.
	var candidates []traySlot
	maxImprovement := 0.0
	for _, slot := range slots {
		testWeights := append(append([]float64(nil), req.Weights...), EffectWeightGrams)
		testPositions := append(append([]Point(nil), positions...), slot.pos)

		testDisp := Displacement(CenterOfMass(testWeights, testPositions), ideal).Magnitude()
		improvement := 0.0
		if originalDisp != 0 {
			improvement = (originalDisp - testDisp) / originalDisp
		}
		if improvement > maxImprovement {
			maxImprovement = improvement
		}
		if improvement > 0 {
			slot.improvement = improvement
			candidates = append(candidates, slot)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].improvement > candidates[j].improvement
	})

	if req.Threshold > 0 && maxImprovement > 0 {
		cutoff := maxImprovement * req.Threshold
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.improvement >= cutoff {
				filtered = append(filtered, c)
			}
		}
		logrus.WithFields(logrus.Fields{
			"cutoff":  cutoff,
			"dropped": len(candidates) - len(filtered),
		}).Debug("Threshold filtered tray candidates")
		candidates = filtered
	}

	var used []traySlot
	addedWeight := 0.0
	for _, slot := range candidates {
		if addedWeight+EffectWeightGrams > available {
			break
		}
		if slot.front {
			layout.FrontTray[slot.row][slot.col] = 1
			layout.FrontEffect[slot.row][slot.col] = slot.improvement
		} else {
			layout.BackTray[slot.row][slot.col] = 1
			layout.BackEffect[slot.row][slot.col] = slot.improvement
		}
		addedWeight += EffectWeightGrams
		used = append(used, slot)
	}

	normalizeEffects(&layout, used)

	finalWeights := append([]float64(nil), req.Weights...)
	finalPositions := append([]Point(nil), positions...)
	for _, slot := range used {
		finalWeights = append(finalWeights, EffectWeightGrams)
		finalPositions = append(finalPositions, slot.pos)
	}

	finalCOM := CenterOfMass(finalWeights, finalPositions)
	layout.FinalCOM = finalCOM
	layout.Displacement = Displacement(finalCOM, ideal).Magnitude()
	layout.TotalWeight = initialWeight + addedWeight

	logrus.WithFields(logrus.Fields{
		"placed":       len(used),
		"added_g":      addedWeight,
		"displacement": layout.Displacement,
	}).Info("Tray layout computed")
	return layout
}

// slotPositions expands a tray grid into slot center coordinates. Slots
// are centered on the grid, spaced one cell plus one wall apart.
func slotPositions(tray TrayGeometry, front bool) []traySlot {
	xSpacing := tray.CellWidth + tray.WallThickness
	ySpacing := tray.CellHeight + tray.WallThickness
	centerRow := float64(tray.Rows-1) / 2
	centerCol := float64(tray.Columns-1) / 2

	slots := make([]traySlot, 0, tray.Rows*tray.Columns)
	for row := 0; row < tray.Rows; row++ {
		for col := 0; col < tray.Columns; col++ {
			slots = append(slots, traySlot{
				front: front,
				row:   row,
				col:   col,
				pos: Point{
					X: (float64(col) - centerCol) * xSpacing,
					Y: tray.YPosition + (float64(row)-centerRow)*ySpacing,
				},
			})
		}
	}
	return slots
}

func emptyGrid(tray TrayGeometry) ([][]int, [][]float64) {
	cells := make([][]int, tray.Rows)
	effects := make([][]float64, tray.Rows)
	for row := range cells {
		cells[row] = make([]int, tray.Columns)
		effects[row] = make([]float64, tray.Columns)
	}
	return cells, effects
}

// normalizeEffects rescales placed slots' improvements so the best one
// reads 1.0.
func normalizeEffects(layout *TrayLayout, used []traySlot) {
	maxEffect := 0.0
	for _, slot := range used {
		if slot.improvement > maxEffect {
			maxEffect = slot.improvement
		}
	}
	if maxEffect == 0 {
		return
	}
	for _, slot := range used {
		if slot.front {
			layout.FrontEffect[slot.row][slot.col] /= maxEffect
		} else {
			layout.BackEffect[slot.row][slot.col] /= maxEffect
		}
	}
}
