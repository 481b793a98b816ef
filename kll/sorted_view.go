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
	"github.com/frankgrimes97/sketches-go/common"
	"github.com/frankgrimes97/sketches-go/internal"
)

// ItemsSketchSortedView is a flattened, weight-sorted snapshot of a sketch:
// all retained items merged into one sorted array with cumulative weights.
// All rank and quantile queries run against it.
type ItemsSketchSortedView[C comparable] struct {
	quantiles  []C
	cumWeights []int64
	totalN     uint64
	maxItem    C
	minItem    C
	compareFn  common.CompareFn[C]
}

func newItemsSketchSortedView[C comparable](sketch *ItemsSketch[C]) (*ItemsSketchSortedView[C], error) {
	if sketch.IsEmpty() {
		return nil, internal.NewError(internal.ErrInvalidArgument, "empty sketch")
	}
	if !sketch.isLevelZeroSorted {
		sortItemsRange(sketch.items, sketch.levels[0], sketch.levels[1]-sketch.levels[0], sketch.compareFn)
		sketch.isLevelZeroSorted = true
	}

	numQuantiles := sketch.GetNumRetained()
	quantiles := make([]C, numQuantiles)
	cumWeights := make([]int64, numQuantiles)
	offset := sketch.levels[0]
	copy(quantiles, sketch.items[offset:offset+numQuantiles])

	// collapse empty levels so the merge sees only populated blocks
	myLevels := make([]uint32, sketch.numLevels+1)
	numBlocks := uint8(0)
	weight := int64(1)
	for srcLevel := uint8(0); srcLevel < sketch.numLevels; srcLevel++ {
		fromIndex := sketch.levels[srcLevel] - offset
		toIndex := sketch.levels[srcLevel+1] - offset // exclusive
		if fromIndex < toIndex {
			for i := fromIndex; i < toIndex; i++ {
				cumWeights[i] = weight
			}
			myLevels[numBlocks] = fromIndex
			myLevels[numBlocks+1] = toIndex
			numBlocks++
		}
		weight *= 2
	}
	mergeSortedBlocks(quantiles, cumWeights, myLevels, numBlocks, sketch.compareFn)
	convertToCumulative(cumWeights)

	minItem, err := sketch.GetMinItem()
	if err != nil {
		return nil, err
	}
	maxItem, err := sketch.GetMaxItem()
	if err != nil {
		return nil, err
	}
	return &ItemsSketchSortedView[C]{
		quantiles:  quantiles,
		cumWeights: cumWeights,
		totalN:     sketch.GetN(),
		maxItem:    maxItem,
		minItem:    minItem,
		compareFn:  sketch.compareFn,
	}, nil
}

// GetRank returns the normalized rank of the given item.
func (s *ItemsSketchSortedView[C]) GetRank(item C, inclusive bool) (float64, error) {
	if s.totalN == 0 {
		return 0, internal.NewError(internal.ErrInvalidArgument, "empty sketch")
	}
	crit := internal.InequalityLT
	if inclusive {
		crit = internal.InequalityLE
	}
	index := internal.FindWithInequality(s.quantiles, item, crit, s.compareFn)
	if index == -1 {
		return 0, nil // the item is below every retained quantile
	}
	return float64(s.cumWeights[index]) / float64(s.totalN), nil
}

// GetQuantile returns the quantile at the given normalized rank.
func (s *ItemsSketchSortedView[C]) GetQuantile(rank float64, inclusive bool) (C, error) {
	if s.totalN == 0 {
		return *new(C), internal.NewError(internal.ErrInvalidArgument, "empty sketch")
	}
	if err := checkNormalizedRankBounds(rank); err != nil {
		return *new(C), err
	}
	// the stream's exact extremes answer ranks 0 and 1
	if rank == 0 {
		return s.minItem, nil
	}
	if rank == 1 {
		return s.maxItem, nil
	}
	index := s.getQuantileIndex(rank, inclusive)
	return s.quantiles[index], nil
}

func (s *ItemsSketchSortedView[C]) getQuantileIndex(rank float64, inclusive bool) int {
	naturalRank := getNaturalRank(rank, s.totalN, inclusive)
	crit := internal.InequalityGE
	if inclusive {
		crit = internal.InequalityGT
	}
	index := internal.FindWithInequality(s.cumWeights, naturalRank, crit,
		func(a, b int64) bool { return a < b })
	if index == -1 {
		return len(s.quantiles) - 1
	}
	return index
}

// GetCDF returns the ranks of the given strictly increasing split points,
// with a final entry of 1.
func (s *ItemsSketchSortedView[C]) GetCDF(splitPoints []C, inclusive bool) ([]float64, error) {
	if s.totalN == 0 {
		return nil, internal.NewError(internal.ErrInvalidArgument, "empty sketch")
	}
	if err := checkItems(splitPoints, s.compareFn); err != nil {
		return nil, err
	}
	buckets := make([]float64, len(splitPoints)+1)
	for i := range splitPoints {
		rank, err := s.GetRank(splitPoints[i], inclusive)
		if err != nil {
			return nil, err
		}
		buckets[i] = rank
	}
	buckets[len(splitPoints)] = 1.0
	return buckets, nil
}

// GetPMF returns the probability masses of the intervals delimited by the
// given strictly increasing split points.
func (s *ItemsSketchSortedView[C]) GetPMF(splitPoints []C, inclusive bool) ([]float64, error) {
	buckets, err := s.GetCDF(splitPoints, inclusive)
	if err != nil {
		return nil, err
	}
	for i := len(buckets) - 1; i > 0; i-- {
		buckets[i] -= buckets[i-1]
	}
	return buckets, nil
}

// Iterator returns a sorted iterator over the view.
func (s *ItemsSketchSortedView[C]) Iterator() *SortedViewIterator[C] {
	return &SortedViewIterator[C]{view: s, index: -1}
}

// SortedViewIterator visits the view's quantiles in sorted order.
type SortedViewIterator[C comparable] struct {
	view  *ItemsSketchSortedView[C]
	index int
}

func (it *SortedViewIterator[C]) Next() bool {
	it.index++
	return it.index < len(it.view.quantiles)
}

func (it *SortedViewIterator[C]) GetQuantile() C {
	return it.view.quantiles[it.index]
}

// GetWeight returns the weight of the current quantile.
func (it *SortedViewIterator[C]) GetWeight() int64 {
	if it.index == 0 {
		return it.view.cumWeights[0]
	}
	return it.view.cumWeights[it.index] - it.view.cumWeights[it.index-1]
}

// GetCumulativeWeight returns the cumulative weight through the current
// quantile.
func (it *SortedViewIterator[C]) GetCumulativeWeight() int64 {
	return it.view.cumWeights[it.index]
}

// mergeSortedBlocks turns the per-level sorted blocks of the flattened
// view into one fully ordered sequence, carrying each item's weight along
// with it. Adjacent blocks merge pairwise, halving the block count each
// round, alternating between the live slices and one scratch pair.
func mergeSortedBlocks[C comparable](items []C, weights []int64, blockBounds []uint32, numBlocks uint8, less common.CompareFn[C]) {
	if numBlocks <= 1 {
		return
	}
	curItems, curWeights := items, weights
	scratchItems := make([]C, len(items))
	scratchWeights := make([]int64, len(weights))

	bounds := make([]uint32, numBlocks+1)
	copy(bounds, blockBounds[:numBlocks+1])

	swapped := false
	for len(bounds) > 2 {
		merged := make([]uint32, 1, (len(bounds)+1)/2+1)
		merged[0] = bounds[0]
		for b := 0; b+1 < len(bounds); b += 2 {
			if b+2 < len(bounds) {
				tandemMergeRuns(curItems, curWeights, scratchItems, scratchWeights,
					bounds[b], bounds[b+1], bounds[b+2], less)
				merged = append(merged, bounds[b+2])
			} else {
				// an odd block out, carried through as-is
				copy(scratchItems[bounds[b]:bounds[b+1]], curItems[bounds[b]:bounds[b+1]])
				copy(scratchWeights[bounds[b]:bounds[b+1]], curWeights[bounds[b]:bounds[b+1]])
				merged = append(merged, bounds[b+1])
			}
		}
		curItems, scratchItems = scratchItems, curItems
		curWeights, scratchWeights = scratchWeights, curWeights
		bounds = merged
		swapped = !swapped
	}
	if swapped { // the final ordering landed in the scratch pair
		copy(items, curItems)
		copy(weights, curWeights)
	}
}

// tandemMergeRuns merges the adjacent sorted runs [lo, mid) and [mid, hi)
// of the source pair into the same positions of the destination pair.
func tandemMergeRuns[C comparable](srcItems []C, srcWeights []int64, dstItems []C, dstWeights []int64, lo, mid, hi uint32, less common.CompareFn[C]) {
	i, j := lo, mid
	for out := lo; out < hi; out++ {
		switch {
		case i == mid:
			dstItems[out], dstWeights[out] = srcItems[j], srcWeights[j]
			j++
		case j == hi:
			dstItems[out], dstWeights[out] = srcItems[i], srcWeights[i]
			i++
		case less(srcItems[i], srcItems[j]):
			dstItems[out], dstWeights[out] = srcItems[i], srcWeights[i]
			i++
		default:
			dstItems[out], dstWeights[out] = srcItems[j], srcWeights[j]
			j++
		}
	}
}
