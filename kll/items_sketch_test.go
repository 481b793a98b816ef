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
	"math"
	"testing"

	"github.com/frankgrimes97/sketches-go/common"
	"github.com/frankgrimes97/sketches-go/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLongsSketch(t *testing.T, k uint16) *ItemsSketch[int64] {
	t.Helper()
	sk, err := NewItemsSketch[int64](k, common.ItemSketchLongComparator(false), common.ItemSketchLongSerDe{})
	require.NoError(t, err)
	return sk
}

func TestKllInvalidK(t *testing.T) {
	_, err := NewItemsSketch[int64](7, common.ItemSketchLongComparator(false), common.ItemSketchLongSerDe{})
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = NewItemsSketch[int64](8, common.ItemSketchLongComparator(false), common.ItemSketchLongSerDe{})
	assert.NoError(t, err)
	_, err = NewItemsSketch[int64](8, nil, common.ItemSketchLongSerDe{})
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
}

func TestKllEmptyInvariants(t *testing.T) {
	sk := newLongsSketch(t, 200)
	assert.True(t, sk.IsEmpty())
	assert.Equal(t, uint64(0), sk.GetN())
	assert.Equal(t, uint32(0), sk.GetNumRetained())
	assert.False(t, sk.IsEstimationMode())

	_, err := sk.GetMinItem()
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetMaxItem()
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetQuantile(0.5, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetRank(0, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetPMF([]int64{1}, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetCDF([]int64{1}, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
}

// The exact-mode scenario: k items into a sketch of size k keeps every item.
func TestKllExactMode(t *testing.T) {
	sk := newLongsSketch(t, 200)
	for i := int64(0); i < 200; i++ {
		sk.Update(i)
	}
	assert.False(t, sk.IsEstimationMode())
	assert.Equal(t, uint64(200), sk.GetN())
	assert.Equal(t, uint32(200), sk.GetNumRetained())

	minItem, err := sk.GetMinItem()
	require.NoError(t, err)
	assert.Equal(t, int64(0), minItem)
	maxItem, err := sk.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, int64(199), maxItem)

	median, err := sk.GetQuantile(0.5, false)
	require.NoError(t, err)
	assert.Contains(t, []int64{99, 100}, median)

	for i := int64(0); i < 200; i++ {
		rank, err := sk.GetRank(i, false)
		require.NoError(t, err)
		assert.Equal(t, float64(i)/200.0, rank, "i=%d", i)
	}
}

func TestKllNTracksUpdates(t *testing.T) {
	sk := newLongsSketch(t, 20)
	for i := int64(0); i < 10_000; i++ {
		sk.Update(i % 100) // duplicates still count toward n
		assert.Equal(t, uint64(i+1), sk.GetN())
	}
	assert.True(t, sk.IsEstimationMode())
}

func TestKllRetainedBelowAnalyticBound(t *testing.T) {
	k := uint16(200)
	sk := newLongsSketch(t, k)
	for i := int64(0); i < 1_000_000; i++ {
		sk.Update(i)
	}
	// the retained count respects the capacity schedule, whose total stays
	// below 3k plus the floor of m items on each level
	capacity := computeTotalItemCapacity(k, defaultM, sk.numLevels)
	assert.LessOrEqual(t, sk.GetNumRetained(), capacity)
	assert.Less(t, int(sk.GetNumRetained()), 3*int(k)+int(defaultM)*int(sk.numLevels))
}

// The estimation-mode scenario: a million sequential items, 1001 evenly
// spaced fractions, each quantile within the normalized rank error.
func TestKllEstimationModeAccuracy(t *testing.T) {
	n := int64(1_000_000)
	sk := newLongsSketch(t, 200)
	for i := int64(0); i < n; i++ {
		sk.Update(i)
	}
	assert.True(t, sk.IsEstimationMode())

	eps := 0.0133
	prev := int64(math.MinInt64)
	for i := 0; i <= 1000; i++ {
		f := float64(i) / 1000.0
		q, err := sk.GetQuantile(f, false)
		require.NoError(t, err)
		assert.InDelta(t, f*float64(n-1), float64(q), eps*float64(n-1), "f=%f", f)
		assert.GreaterOrEqual(t, q, prev, "quantiles must be non-decreasing")
		prev = q
	}
}

func TestKllQuantileBoundsAndErrors(t *testing.T) {
	sk := newLongsSketch(t, 200)
	for i := int64(0); i < 1000; i++ {
		sk.Update(i)
	}
	_, err := sk.GetQuantile(-0.1, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetQuantile(1.1, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetQuantile(math.NaN(), false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)

	q0, err := sk.GetQuantile(0, false)
	require.NoError(t, err)
	minItem, err := sk.GetMinItem()
	require.NoError(t, err)
	assert.Equal(t, minItem, q0)

	q1, err := sk.GetQuantile(1, false)
	require.NoError(t, err)
	maxItem, err := sk.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, maxItem, q1)
}

func TestKllCdfMatchesRankExactly(t *testing.T) {
	sk := newLongsSketch(t, 150)
	for i := int64(0); i < 100_000; i++ {
		sk.Update(i)
	}
	splits := []int64{1000, 30_000, 50_000, 99_000}
	for _, inclusive := range []bool{false, true} {
		cdf, err := sk.GetCDF(splits, inclusive)
		require.NoError(t, err)
		require.Len(t, cdf, len(splits)+1)
		for i, x := range splits {
			rank, err := sk.GetRank(x, inclusive)
			require.NoError(t, err)
			assert.Equal(t, rank, cdf[i], "split=%d", x)
		}
		assert.Equal(t, 1.0, cdf[len(splits)])
	}
}

func TestKllPmfSumsToOne(t *testing.T) {
	sk := newLongsSketch(t, 200)
	for i := int64(0); i < 50_000; i++ {
		sk.Update(i)
	}
	pmf, err := sk.GetPMF([]int64{10_000, 25_000, 40_000}, false)
	require.NoError(t, err)
	require.Len(t, pmf, 4)
	sum := 0.0
	for _, mass := range pmf {
		assert.GreaterOrEqual(t, mass, 0.0)
		sum += mass
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	// roughly uniform input, roughly proportional masses
	assert.InDelta(t, 0.2, pmf[0], 0.05)
	assert.InDelta(t, 0.3, pmf[1], 0.05)
}

func TestKllSplitPointValidation(t *testing.T) {
	sk := newLongsSketch(t, 200)
	for i := int64(0); i < 1000; i++ {
		sk.Update(i)
	}
	_, err := sk.GetPMF([]int64{5, 5}, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
	_, err = sk.GetCDF([]int64{10, 5}, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)

	fsk, err := NewItemsSketchWithDefault[float64](common.ItemSketchDoubleComparator(false), common.ItemSketchDoubleSerDe{})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		fsk.Update(float64(i))
	}
	_, err = fsk.GetPMF([]float64{1, math.NaN(), 3}, false)
	assert.ErrorIs(t, err, internal.ErrInvalidArgument)
}

func TestKllMonotoneQuantiles(t *testing.T) {
	sk := newLongsSketch(t, 128)
	for i := int64(0); i < 300_000; i++ {
		sk.Update((i * 7919) % 1_000_003) // scrambled input order
	}
	prev := int64(math.MinInt64)
	for i := 0; i <= 200; i++ {
		q, err := sk.GetQuantile(float64(i)/200.0, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, q, prev)
		prev = q
	}
}

func TestKllMinMaxAreExact(t *testing.T) {
	sk := newLongsSketch(t, 64)
	for i := int64(0); i < 500_000; i++ {
		sk.Update((i*2654435761 + 17) % 1_000_000_007)
	}
	var wantMin, wantMax int64 = math.MaxInt64, math.MinInt64
	for i := int64(0); i < 500_000; i++ {
		v := (i*2654435761 + 17) % 1_000_000_007
		wantMin = min(wantMin, v)
		wantMax = max(wantMax, v)
	}
	gotMin, err := sk.GetMinItem()
	require.NoError(t, err)
	gotMax, err := sk.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, wantMin, gotMin)
	assert.Equal(t, wantMax, gotMax)
}

func TestKllMergeDisjoint(t *testing.T) {
	a := newLongsSketch(t, 200)
	b := newLongsSketch(t, 200)
	for i := int64(0); i < 100_000; i++ {
		a.Update(i)
		b.Update(i + 100_000)
	}
	a.Merge(b)
	assert.Equal(t, uint64(200_000), a.GetN())
	gotMin, err := a.GetMinItem()
	require.NoError(t, err)
	assert.Equal(t, int64(0), gotMin)
	gotMax, err := a.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, int64(199_999), gotMax)

	median, err := a.GetQuantile(0.5, false)
	require.NoError(t, err)
	assert.InDelta(t, 100_000, float64(median), 0.02*200_000)
}

func TestKllMergeIntoEmpty(t *testing.T) {
	a := newLongsSketch(t, 200)
	b := newLongsSketch(t, 200)
	for i := int64(0); i < 10_000; i++ {
		b.Update(i)
	}
	a.Merge(b)
	assert.Equal(t, uint64(10_000), a.GetN())
	q, err := a.GetQuantile(0.5, false)
	require.NoError(t, err)
	assert.InDelta(t, 5_000, float64(q), 0.03*10_000)
}

func TestKllMergeTracksMinK(t *testing.T) {
	a := newLongsSketch(t, 256)
	b := newLongsSketch(t, 128)
	for i := int64(0); i < 100_000; i++ {
		a.Update(i)
		b.Update(i + 100_000)
	}
	require.True(t, b.IsEstimationMode())
	a.Merge(b)
	assert.Equal(t, uint16(128), a.GetMinK())
	assert.Equal(t, getNormalizedRankError(128, false), a.GetNormalizedRankError(false))
}

func TestKllNormalizedRankError(t *testing.T) {
	singleSided := getNormalizedRankError(200, false)
	doubleSided := getNormalizedRankError(200, true)
	assert.InDelta(t, 0.0133, singleSided, 0.0005)
	assert.InDelta(t, 0.0165, doubleSided, 0.0005)
	assert.Greater(t, doubleSided, singleSided)
	// larger k means smaller error
	assert.Less(t, getNormalizedRankError(400, false), singleSided)
}

func TestKllIterator(t *testing.T) {
	sk := newLongsSketch(t, 64)
	n := int64(10_000)
	for i := int64(0); i < n; i++ {
		sk.Update(i)
	}
	it := sk.GetIterator()
	totalWeight := int64(0)
	count := 0
	for it.Next() {
		totalWeight += it.GetWeight()
		count++
	}
	assert.Equal(t, int(sk.GetNumRetained()), count)
	assert.Equal(t, int64(sk.GetN()), totalWeight)
}

func TestKllSortedViewWeights(t *testing.T) {
	sk := newLongsSketch(t, 64)
	n := int64(50_000)
	for i := int64(0); i < n; i++ {
		sk.Update(i)
	}
	view, err := sk.GetSortedView()
	require.NoError(t, err)
	it := view.Iterator()
	var cum int64
	prev := int64(math.MinInt64)
	for it.Next() {
		assert.GreaterOrEqual(t, it.GetQuantile(), prev)
		prev = it.GetQuantile()
		cum += it.GetWeight()
		assert.Equal(t, cum, it.GetCumulativeWeight())
	}
	assert.Equal(t, int64(sk.GetN()), cum)
}

func TestKllStringItems(t *testing.T) {
	sk, err := NewItemsSketchWithDefault[string](common.ItemSketchStringComparator(false), common.ItemSketchStringSerDe{})
	require.NoError(t, err)
	words := []string{"delta", "alpha", "echo", "bravo", "charlie"}
	for _, w := range words {
		sk.Update(w)
	}
	minItem, err := sk.GetMinItem()
	require.NoError(t, err)
	assert.Equal(t, "alpha", minItem)
	maxItem, err := sk.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, "echo", maxItem)
	rank, err := sk.GetRank("charlie", true)
	require.NoError(t, err)
	assert.Equal(t, 0.6, rank)
}

func TestKllNaturalCompareFn(t *testing.T) {
	sk, err := NewItemsSketch[int64](200, NaturalCompareFn[int64](), common.ItemSketchLongSerDe{})
	require.NoError(t, err)
	for i := int64(0); i < 100; i++ {
		sk.Update(99 - i)
	}
	minItem, err := sk.GetMinItem()
	require.NoError(t, err)
	assert.Equal(t, int64(0), minItem)
	maxItem, err := sk.GetMaxItem()
	require.NoError(t, err)
	assert.Equal(t, int64(99), maxItem)
}

func TestKllReset(t *testing.T) {
	sk := newLongsSketch(t, 100)
	for i := int64(0); i < 10_000; i++ {
		sk.Update(i)
	}
	sk.Reset()
	assert.True(t, sk.IsEmpty())
	assert.Equal(t, uint64(0), sk.GetN())
	sk.Update(42)
	q, err := sk.GetQuantile(0.5, true)
	require.NoError(t, err)
	assert.Equal(t, int64(42), q)
}
