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

package cpc

import (
	"math/bits"
	"slices"

	"github.com/frankgrimes97/sketches-go/internal"
)

// compressedState is the wire-ready image of a sketch: the preamble fields
// plus the compressed window and surprising-value streams.
type compressedState struct {
	lgK        int
	fiCol      int
	mergeFlag  bool
	numCoupons uint64

	kxp         float64
	hipEstAccum float64

	numCsv    int // pairs encoded in csvStream
	csvStream []uint32
	cwStream  []uint32
}

// compress converts a live sketch into its compressed image. Sparse and
// hybrid flavors transcode everything, window included, into one pair
// stream; pinned and sliding flavors compress the window separately.
func compress(c *CpcSketch) (*compressedState, error) {
	state := &compressedState{
		lgK:         c.lgK,
		fiCol:       c.fiCol,
		mergeFlag:   c.mergeFlag,
		numCoupons:  c.numCoupons,
		kxp:         c.kxp,
		hipEstAccum: c.hipEstAccum,
	}
	switch c.getFlavor() {
	case flavorEmpty:
		return state, nil
	case flavorSparse, flavorHybrid:
		pairs := c.pairTable.pairsArray()
		if c.slidingWindow != nil {
			for row, b := range c.slidingWindow {
				for b != 0 {
					col := bits.TrailingZeros8(b)
					b &= b - 1
					pairs = append(pairs, (row<<6)|col)
				}
			}
			slices.Sort(pairs)
		}
		if uint64(len(pairs)) != c.numCoupons {
			return nil, internal.NewError(internal.ErrFormat,
				"pair count %d != numCoupons %d", len(pairs), c.numCoupons)
		}
		state.numCsv = len(pairs)
		state.csvStream = compressPairs(pairs, c.lgK)
		return state, nil
	default: // pinned, sliding
		state.cwStream = compressWindow(c.slidingWindow)
		if c.pairTable.numPairs > 0 {
			pairs := c.pairTable.pairsArray()
			state.numCsv = len(pairs)
			state.csvStream = compressPairs(pairs, c.lgK)
		}
		return state, nil
	}
}

// uncompress rebuilds a live sketch from its compressed image and
// re-establishes the structural invariants of its flavor.
func uncompress(state *compressedState, seed uint64) (*CpcSketch, error) {
	sketch, err := NewCpcSketch(state.lgK, seed)
	if err != nil {
		return nil, err
	}
	sketch.numCoupons = state.numCoupons
	sketch.mergeFlag = state.mergeFlag
	sketch.fiCol = state.fiCol
	if !state.mergeFlag {
		sketch.kxp = state.kxp
		sketch.hipEstAccum = state.hipEstAccum
	}
	sketch.windowOffset = determineCorrectOffset(state.lgK, state.numCoupons)

	switch determineFlavor(state.lgK, state.numCoupons) {
	case flavorEmpty:
		return sketch, nil
	case flavorSparse:
		pairs, err := uncompressPairs(state.csvStream, state.numCsv, state.lgK)
		if err != nil {
			return nil, err
		}
		sketch.pairTable, err = newPairTableFromPairs(pairs, len(pairs), state.lgK)
		if err != nil {
			return nil, err
		}
		return sketch, nil
	case flavorHybrid:
		pairs, err := uncompressPairs(state.csvStream, state.numCsv, state.lgK)
		if err != nil {
			return nil, err
		}
		k := 1 << state.lgK
		window := make([]byte, k)
		table, err := newPairTable(2, 6+state.lgK)
		if err != nil {
			return nil, err
		}
		for _, rowCol := range pairs {
			col := rowCol & 63
			if col < 8 {
				window[rowCol>>6] |= 1 << col
			} else {
				isNovel, err := table.maybeInsert(rowCol)
				if err != nil {
					return nil, err
				}
				if !isNovel {
					return nil, internal.NewError(internal.ErrFormat, "duplicate pair in stream")
				}
			}
		}
		sketch.slidingWindow = window
		sketch.pairTable = table
		return sketch, nil
	default: // pinned, sliding
		window, err := uncompressWindow(state.cwStream, 1<<state.lgK)
		if err != nil {
			return nil, err
		}
		sketch.slidingWindow = window
		var pairs []int
		if state.numCsv > 0 {
			pairs, err = uncompressPairs(state.csvStream, state.numCsv, state.lgK)
			if err != nil {
				return nil, err
			}
		}
		sketch.pairTable, err = newPairTableFromPairs(pairs, len(pairs), state.lgK)
		if err != nil {
			return nil, err
		}
		return sketch, nil
	}
}
