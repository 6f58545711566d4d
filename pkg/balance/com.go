// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

// Package balance computes the sled's weight distribution from calibrated
// load cell readings and drives it toward an ideal center of mass, either
// through trim actuator commands or by planning a ballast tray layout.
package balance

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a position on the sled bed in centimeters, origin at the bed
// center line.
type Point struct {
	X float64
	Y float64
}

// Points serialize as [x, y] pairs in settings and layout files.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("point must be an [x, y] pair: %w", err)
	}
	p.X, p.Y = pair[0], pair[1]
	return nil
}

func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Magnitude is the Euclidean length of the point treated as a vector.
func (p Point) Magnitude() float64 {
	return math.Hypot(p.X, p.Y)
}

// CenterOfMass is the weighted mean of positions. With no load on any
// cell the geometric center of the positions stands in, so the display
// marker stays on the bed instead of jumping to the origin.
func CenterOfMass(weights []float64, positions []Point) Point {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return geometricCenter(positions)
	}

	var com Point
	for i, w := range weights {
		com.X += w * positions[i].X
		com.Y += w * positions[i].Y
	}
	com.X /= total
	com.Y /= total
	return com
}

func geometricCenter(positions []Point) Point {
	if len(positions) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range positions {
		c.X += p.X
		c.Y += p.Y
	}
	c.X /= float64(len(positions))
	c.Y /= float64(len(positions))
	return c
}

// Displacement is the vector from the ideal center of mass to the actual
// one.
func Displacement(actual, ideal Point) Point {
	return actual.Sub(ideal)
}

// ApplyTare subtracts a tare baseline from calibrated weights, clamping
// at zero so a removed load never reads negative.
func ApplyTare(weights, tare []float64) []float64 {
	out := make([]float64, len(weights))
	for i, w := range weights {
		t := 0.0
		if i < len(tare) {
			t = tare[i]
		}
		out[i] = math.Max(0, w-t)
	}
	return out
}
