/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package hll

import (
	"github.com/frankgrimes97/sketches-go/internal"
)

// usingXArrAndYStride cubic-interpolates y(x) on a curve whose x values are
// tabulated and whose y values lie on a regular grid with the given stride.
func usingXArrAndYStride(xArr []float64, yStride float64, x float64) (float64, error) {
	xArrLen := len(xArr)
	xArrLenM1 := xArrLen - 1

	if xArrLen < 4 || x < xArr[0] || x > xArr[xArrLenM1] {
		return 0, internal.NewError(internal.ErrInvalidArgument,
			"x value out of range: %f", x)
	}
	if x == xArr[xArrLenM1] {
		return yStride * float64(xArrLenM1), nil // corner case
	}
	offset := findStraddle(xArr, x)
	xArrLenM2 := xArrLen - 2
	if offset < 0 || offset > xArrLenM2 {
		return 0, internal.NewError(internal.ErrInvalidArgument,
			"offset out of range: %d", offset)
	}
	switch {
	case offset == 0: // corner case
	case offset == xArrLenM2: // corner case
		offset -= 2
	default:
		offset--
	}
	return interpolateUsingXArrAndYStride(xArr, yStride, offset, x), nil
}

func interpolateUsingXArrAndYStride(xArr []float64, yStride float64, offset int, x float64) float64 {
	return cubicInterpolate(
		xArr[offset+0], yStride*float64(offset+0),
		xArr[offset+1], yStride*float64(offset+1),
		xArr[offset+2], yStride*float64(offset+2),
		xArr[offset+3], yStride*float64(offset+3), x)
}

// cubicInterpolate evaluates the cubic through the four given points at x,
// using the Lagrange formula.
func cubicInterpolate(x0, y0, x1, y1, x2, y2, x3, y3, x float64) float64 {
	l0Numer := (x - x1) * (x - x2) * (x - x3)
	l1Numer := (x - x0) * (x - x2) * (x - x3)
	l2Numer := (x - x0) * (x - x1) * (x - x3)
	l3Numer := (x - x0) * (x - x1) * (x - x2)

	l0Denom := (x0 - x1) * (x0 - x2) * (x0 - x3)
	l1Denom := (x1 - x0) * (x1 - x2) * (x1 - x3)
	l2Denom := (x2 - x0) * (x2 - x1) * (x2 - x3)
	l3Denom := (x3 - x0) * (x3 - x1) * (x3 - x2)

	term0 := (y0 * l0Numer) / l0Denom
	term1 := (y1 * l1Numer) / l1Denom
	term2 := (y2 * l2Numer) / l2Denom
	term3 := (y3 * l3Numer) / l3Denom

	return term0 + term1 + term2 + term3
}

// findStraddle returns the index i of the largest x value with
// xArr[i] <= x < xArr[i+1]. The caller guarantees x is in range.
func findStraddle(xArr []float64, x float64) int {
	left, right := 0, len(xArr)-1
	for left+1 < right {
		middle := left + (right-left)/2
		if xArr[middle] <= x {
			left = middle
		} else {
			right = middle
		}
	}
	return left
}
