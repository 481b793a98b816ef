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
	"slices"

	"github.com/frankgrimes97/sketches-go/common"
)

// The level capacity schedule follows the KLL paper: level ℓ of a stack of
// L levels holds about k * (2/3)^(L-ℓ-1) items, floored at m.

var powersOfThree = []uint64{1, 3, 9, 27, 81, 243, 729, 2187, 6561, 19683,
	59049, 177147, 531441, 1594323, 4782969, 14348907, 43046721, 129140163,
	387420489, 1162261467, 3486784401, 10460353203, 31381059609, 94143178827,
	282429536481, 847288609443, 2541865828329, 7625597484987, 22876792454961,
	68630377364883, 205891132094649}

func findLevelToCompact(k uint16, m uint8, numLevels uint8, levels []uint32) uint8 {
	level := uint8(0)
	for {
		pop := levels[level+1] - levels[level]
		capacity := levelCapacity(k, numLevels, level, m)
		if pop >= capacity {
			return level
		}
		level++
	}
}

func computeTotalItemCapacity(k uint16, m uint8, numLevels uint8) uint32 {
	var total uint32
	for level := uint8(0); level < numLevels; level++ {
		total += levelCapacity(k, numLevels, level, m)
	}
	return total
}

func levelCapacity(k uint16, numLevels, level, m uint8) uint32 {
	depth := numLevels - level - 1
	return max(uint32(m), intCapAux(k, depth))
}

func intCapAux(k uint16, depth uint8) uint32 {
	if depth <= 30 {
		return intCapAuxAux(k, depth)
	}
	half := depth / 2
	rest := depth - half
	tmp := intCapAuxAux(k, half)
	return intCapAuxAux(uint16(tmp), rest)
}

func intCapAuxAux(k uint16, depth uint8) uint32 {
	// k * (2/3)^depth, rounded to the nearest integer and capped at k;
	// computing 2k * (2/3)^depth first keeps one extra bit for the rounding.
	twok := uint64(k) << 1
	tmp := (twok << depth) / powersOfThree[depth]
	result := (tmp + 1) >> 1
	if result <= uint64(k) {
		return uint32(result)
	}
	return uint32(k)
}

// randomlyHalveUpItems keeps the odd- or even-indexed half of the buffer
// region, compacting it toward the top.
func randomlyHalveUpItems[C comparable](buf []C, start, length uint32, coin *bitCoin) {
	halfLength := length / 2
	offset := uint32(coin.next())
	j := (start + length) - 1 - offset
	for i := (start + length) - 1; i >= (start + halfLength); i-- {
		buf[i] = buf[j]
		j -= 2
	}
}

// randomlyHalveDownItems keeps the odd- or even-indexed half of the buffer
// region, compacting it toward the bottom.
func randomlyHalveDownItems[C comparable](buf []C, start, length uint32, coin *bitCoin) {
	halfLength := length / 2
	offset := uint32(coin.next())
	j := start + offset
	for i := start; i < (start + halfLength); i++ {
		buf[i] = buf[j]
		j += 2
	}
}

func mergeSortedItemsArrays[C comparable](left []C, leftOff, leftLen uint32,
	right []C, rightOff, rightLen uint32,
	out []C, outOff uint32, compareFn common.CompareFn[C]) {
	leftEnd := leftOff + leftLen
	rightEnd := rightOff + rightLen
	outEnd := outOff + leftLen + rightLen

	i := leftOff
	j := rightOff
	for o := outOff; o < outEnd; o++ {
		switch {
		case i == leftEnd:
			out[o] = right[j]
			j++
		case j == rightEnd:
			out[o] = left[i]
			i++
		case compareFn(left[i], right[j]):
			out[o] = left[i]
			i++
		default:
			out[o] = right[j]
			j++
		}
	}
}

func sortItemsRange[C comparable](buf []C, start, length uint32, compareFn common.CompareFn[C]) {
	tmpSlice := buf[start : start+length]
	slices.SortFunc(tmpSlice, func(a, b C) int {
		if compareFn(a, b) {
			return -1
		}
		return 1
	})
}

// generalItemsCompress walks a provisional level stack bottom-up,
// compacting every over-full level until the retained count fits the
// capacity schedule. src and dst may alias. Returns the final number of
// levels, the capacity target and the retained count.
func generalItemsCompress[C comparable](
	k uint16,
	m uint8,
	startingNumLevels uint8,
	src []C,
	srcLevels []uint32,
	dst []C,
	dstLevels []uint32,
	levelZeroSorted bool,
	compareFn common.CompareFn[C],
	coin *bitCoin,
) (uint8, uint32, uint32) {
	numLevels := startingNumLevels
	retained := srcLevels[numLevels] - srcLevels[0]             // shrinks with each compaction
	capacityTarget := computeTotalItemCapacity(k, m, numLevels) // grows when a level is added
	dstLevels[0] = 0

	for lv := 0; ; lv++ {
		if lv == int(numLevels)-1 {
			// fake an empty level above the current top so the loop body
			// never needs a special case for it
			srcLevels[lv+2] = srcLevels[lv+1]
		}
		srcBeg := srcLevels[lv]
		srcEnd := srcLevels[lv+1]
		pop := srcEnd - srcBeg

		if retained < capacityTarget || pop < levelCapacity(k, numLevels, uint8(lv), m) {
			// room to spare: the level passes through unchanged
			copy(dst[dstLevels[lv]:], src[srcBeg:srcEnd])
			dstLevels[lv+1] = dstLevels[lv] + pop
		} else {
			// the stack is over-full AND this level is over-full; halve it
			above := srcLevels[lv+2] - srcEnd
			leftover := pop % 2
			evenBeg := srcBeg + leftover
			evenPop := pop - leftover
			half := evenPop / 2

			// an odd population leaves its first item on this level
			if leftover == 1 {
				dst[dstLevels[lv]] = src[srcBeg]
			}
			dstLevels[lv+1] = dstLevels[lv] + leftover

			if lv == 0 && !levelZeroSorted {
				sortItemsRange(src, evenBeg, evenPop, compareFn)
			}
			if above == 0 {
				randomlyHalveUpItems(src, evenBeg, evenPop, coin)
			} else {
				randomlyHalveDownItems(src, evenBeg, evenPop, coin)
				mergeSortedItemsArrays(
					src, evenBeg, half,
					src, srcEnd, above,
					src, evenBeg+half, compareFn)
			}
			retained -= half
			srcLevels[lv+1] -= half

			// halving the old top spills into a brand-new level, which
			// also buys more capacity
			if lv == int(numLevels)-1 {
				numLevels++
				capacityTarget += levelCapacity(k, numLevels, 0, m)
			}
		}
		if lv == int(numLevels)-1 {
			return numLevels, capacityTarget, retained
		}
	}
}
