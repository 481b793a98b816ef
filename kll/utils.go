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

package kll

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	"github.com/frankgrimes97/sketches-go/common"
	"github.com/frankgrimes97/sketches-go/internal"
	"golang.org/x/exp/constraints"
)

const (
	tailRoundingFactor = 1e7

	// best-fit coefficients of the empirically measured 99% max rank error
	pmfCoef = 2.446
	pmfExp  = 0.9433
	cdfCoef = 2.296
	cdfExp  = 0.9723
)

// NaturalCompareFn returns the comparator of the natural ascending order
// for any ordered type.
func NaturalCompareFn[C constraints.Ordered]() common.CompareFn[C] {
	return func(a, b C) bool {
		return a < b
	}
}

// bitCoin is the deterministic pseudo-random bit used to pick each
// compaction's odd or even offset. The bits come from hashing a per-sketch
// counter, so a replayed stream produces an identical sketch without any
// global random state.
type bitCoin struct {
	buf [8]byte
	n   uint64
}

func (c *bitCoin) next() int {
	c.n++
	binary.LittleEndian.PutUint64(c.buf[:], c.n)
	return int(xxhash.Sum64(c.buf[:]) & 1)
}

func convertToCumulative(array []int64) int64 {
	subtotal := int64(0)
	for i := range array {
		subtotal += array[i]
		array[i] = subtotal
	}
	return subtotal
}

// getNaturalRank converts a normalized rank to a natural rank in [0, n].
func getNaturalRank(normalizedRank float64, totalN uint64, inclusive bool) int64 {
	naturalRank := normalizedRank * float64(totalN)
	if totalN <= tailRoundingFactor {
		naturalRank = math.Round(naturalRank*tailRoundingFactor) / tailRoundingFactor
	}
	if inclusive {
		return int64(math.Ceil(naturalRank))
	}
	return int64(math.Floor(naturalRank))
}

func checkK(k uint16, m uint8) error {
	if k < uint16(m) || k > maxK {
		return internal.NewError(internal.ErrInvalidArgument,
			"k must be >= %d and <= %d: %d", m, maxK, k)
	}
	return nil
}

func checkM(m uint8) error {
	if m < minM || m > maxM || (m&1) == 1 {
		return internal.NewError(internal.ErrInvalidArgument,
			"m must be >= 2, <= 8 and even: %d", m)
	}
	return nil
}

func checkNormalizedRankBounds(rank float64) error {
	if math.IsNaN(rank) || rank < 0 || rank > 1 {
		return internal.NewError(internal.ErrInvalidArgument,
			"rank must be between 0 and 1 inclusive: %f", rank)
	}
	return nil
}

// checkItems validates split points: unique, monotonically increasing, not
// nil and not NaN. A NaN compares unequal to itself, which the self
// comparison catches for any comparable type.
func checkItems[C comparable](items []C, compareFn common.CompareFn[C]) error {
	for i := range items {
		if internal.IsNil(items[i]) || items[i] != items[i] {
			return internal.NewError(internal.ErrInvalidArgument,
				"split points must be unique, monotonically increasing and not NaN")
		}
	}
	for i := 0; i < len(items)-1; i++ {
		if !compareFn(items[i], items[i+1]) {
			return internal.NewError(internal.ErrInvalidArgument,
				"split points must be unique, monotonically increasing and not NaN")
		}
	}
	return nil
}

func ubOnNumLevels(n uint64) int {
	if n == 0 {
		return 1
	}
	return 1 + (63 - bits.LeadingZeros64(n))
}

func getNumRetainedAboveLevelZero(numLevels uint8, levels []uint32) uint32 {
	return levels[numLevels] - levels[1]
}

func currentLevelSizeItems(level, numLevels uint8, levels []uint32) uint32 {
	if level >= numLevels {
		return 0
	}
	return levels[level+1] - levels[level]
}

// getNormalizedRankError returns the normalized rank error of a sketch of
// the given k: the double-sided (PMF) bound when pmf is true, the
// single-sided bound otherwise.
func getNormalizedRankError(k uint16, pmf bool) float64 {
	if pmf {
		return pmfCoef / math.Pow(float64(k), pmfExp)
	}
	return cdfCoef / math.Pow(float64(k), cdfExp)
}
