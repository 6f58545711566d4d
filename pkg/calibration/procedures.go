// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Prescayc21

package calibration

import (
	"errors"
	"fmt"

	"github.com/Prescayc21/SkeletonSledController/pkg/sledwire"
)

// Zero procedure defaults: one steady window per channel, rejected when
// the channel wobbles more than the variance threshold (raw counts^2).
const (
	DefaultZeroWindowSize  = 20
	DefaultMaxZeroVariance = 100.0
)

var (
	ErrUnstableZeroWindow = errors.New("zero window unstable")
	ErrEmptyZeroWindow    = errors.New("zero window has no samples")
	ErrDegenerateScale    = errors.New("scale reference points coincide")
	ErrTooFewPoints       = errors.New("need at least two calibration points")
	ErrDegenerateFit      = errors.New("calibration points have no raw spread")
)

// RunZeroProcedure computes per-channel zero offsets as the mean of a
// steady-state sample window. maxVariance <= 0 selects the default
// threshold. The whole window is rejected if any channel's population
// variance exceeds the threshold.
func RunZeroProcedure(samples []sledwire.RawSample, maxVariance float64) (map[uint8]float64, error) {
	if maxVariance <= 0 {
		maxVariance = DefaultMaxZeroVariance
	}
	if len(samples) == 0 {
		return nil, ErrEmptyZeroWindow
	}

	byChannel := make(map[uint8][]float64)
	for _, s := range samples {
		byChannel[s.Channel] = append(byChannel[s.Channel], float64(s.Value))
	}

	offsets := make(map[uint8]float64, len(byChannel))
	for ch, values := range byChannel {
		mean := meanOf(values)
		variance := varianceOf(values, mean)
		if variance > maxVariance {
			return nil, fmt.Errorf("channel %d: variance %.2f exceeds %.2f: %w",
				ch, variance, maxVariance, ErrUnstableZeroWindow)
		}
		offsets[ch] = mean
	}
	return offsets, nil
}

// TwoPointScale derives a linear scale from two reference loadings:
// raw counts at a low known weight and at a high known weight. Weights
// are in grams.
func TwoPointScale(rawLow, rawHigh, knownLow, knownHigh float64) (float64, error) {
	if rawHigh == rawLow {
		return 0, ErrDegenerateScale
	}
	return (knownHigh - knownLow) / (rawHigh - rawLow), nil
}

// FitPoints least-squares fits a channel calibration over two or more
// measurement points, normalizing all weights to grams first. The
// returned calibration carries the points it was fit from and the R^2
// goodness of fit.
func FitPoints(points []Point) (ChannelCalibration, error) {
	if len(points) < 2 {
		return ChannelCalibration{}, ErrTooFewPoints
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, pt := range points {
		xs[i] = pt.Raw
		ys[i] = ConvertUnit(pt.Weight, pt.Unit, UnitGrams)
	}

	meanX := meanOf(xs)
	meanY := meanOf(ys)

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return ChannelCalibration{}, ErrDegenerateFit
	}

	// weight = slope*raw + intercept, rearranged to the zero/scale form:
	// weight = (raw - (-intercept/slope)) * slope.
	slope := sxy / sxx
	intercept := meanY - slope*meanX
	if slope == 0 {
		return ChannelCalibration{}, ErrDegenerateFit
	}

	var ssTotal, ssResidual float64
	for i := range xs {
		predicted := slope*xs[i] + intercept
		ssResidual += (ys[i] - predicted) * (ys[i] - predicted)
		ssTotal += (ys[i] - meanY) * (ys[i] - meanY)
	}
	rSquared := 0.0
	if ssTotal != 0 {
		rSquared = 1 - ssResidual/ssTotal
	}

	return ChannelCalibration{
		ZeroOffset: -intercept / slope,
		Scale:      slope,
		Unit:       UnitGrams,
		Points:     append([]Point(nil), points...),
		RSquared:   rSquared,
	}, nil
}

func meanOf(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func varianceOf(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}
