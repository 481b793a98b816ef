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
	"testing"

	"github.com/frankgrimes97/sketches-go/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHll(t *testing.T, lgK int, width TgtHllType, from, to int64) *HllSketch {
	t.Helper()
	sk, err := NewHllSketch(lgK, width)
	require.NoError(t, err)
	for i := from; i < to; i++ {
		require.NoError(t, sk.UpdateInt64(i))
	}
	return sk
}

func TestHllUnionEmpty(t *testing.T) {
	u, err := NewUnionWithDefault()
	require.NoError(t, err)
	assert.True(t, u.IsEmpty())
	result, err := u.GetResult(TgtHllTypeHll4)
	require.NoError(t, err)
	assert.True(t, result.IsEmpty())
}

func TestHllUnionOfDisjointStreams(t *testing.T) {
	lgK := 11
	u, err := NewUnion(lgK)
	require.NoError(t, err)
	for part := int64(0); part < 4; part++ {
		sk := buildHll(t, lgK, TgtHllTypeHll4, part*100_000, (part+1)*100_000)
		require.NoError(t, u.UpdateSketch(sk))
	}
	result, err := u.GetResult(TgtHllTypeHll4)
	require.NoError(t, err)
	assert.True(t, result.isOutOfOrder())
	est, err := result.GetEstimate()
	require.NoError(t, err)
	relErr := getRelErrAllK(true, lgK, 3)
	assert.InDelta(t, 400_000, est, relErr*400_000)
}

func TestHllUnionMixedWidths(t *testing.T) {
	lgK := 10
	u, err := NewUnion(lgK)
	require.NoError(t, err)
	require.NoError(t, u.UpdateSketch(buildHll(t, lgK, TgtHllTypeHll4, 0, 50_000)))
	require.NoError(t, u.UpdateSketch(buildHll(t, lgK, TgtHllTypeHll6, 25_000, 75_000)))
	require.NoError(t, u.UpdateSketch(buildHll(t, lgK, TgtHllTypeHll8, 50_000, 100_000)))
	result, err := u.GetResult(TgtHllTypeHll8)
	require.NoError(t, err)
	est, err := result.GetEstimate()
	require.NoError(t, err)
	relErr := getRelErrAllK(true, lgK, 3)
	assert.InDelta(t, 100_000, est, relErr*100_000)
}

func TestHllUnionCouponSourcesKeepHip(t *testing.T) {
	lgK := 11
	u, err := NewUnion(lgK)
	require.NoError(t, err)
	// coupon-mode sources are lossless, so the gadget never goes out of order
	require.NoError(t, u.UpdateSketch(buildHll(t, lgK, TgtHllTypeHll4, 0, 100)))
	require.NoError(t, u.UpdateSketch(buildHll(t, lgK, TgtHllTypeHll4, 100, 200)))
	result, err := u.GetResult(TgtHllTypeHll4)
	require.NoError(t, err)
	assert.False(t, result.isOutOfOrder())
	est, err := result.GetEstimate()
	require.NoError(t, err)
	assert.InDelta(t, 200, est, 2)
}

func TestHllUnionDownsamplesLargerSource(t *testing.T) {
	u, err := NewUnion(10)
	require.NoError(t, err)
	big := buildHll(t, 14, TgtHllTypeHll8, 0, 200_000)
	require.NoError(t, u.UpdateSketch(big))
	assert.Equal(t, 10, u.GetLgConfigK())
	result, err := u.GetResult(TgtHllTypeHll8)
	require.NoError(t, err)
	assert.Equal(t, 10, result.GetLgConfigK())
	est, err := result.GetEstimate()
	require.NoError(t, err)
	relErr := getRelErrAllK(true, 10, 3)
	assert.InDelta(t, 200_000, est, relErr*200_000)
}

func TestHllUnionGadgetFoldsDownToSmallerSource(t *testing.T) {
	u, err := NewUnion(12)
	require.NoError(t, err)
	require.NoError(t, u.UpdateSketch(buildHll(t, 12, TgtHllTypeHll8, 0, 100_000)))
	require.NoError(t, u.UpdateSketch(buildHll(t, 10, TgtHllTypeHll8, 100_000, 200_000)))
	assert.Equal(t, 10, u.GetLgConfigK())
	result, err := u.GetResult(TgtHllTypeHll8)
	require.NoError(t, err)
	est, err := result.GetEstimate()
	require.NoError(t, err)
	relErr := getRelErrAllK(true, 10, 3)
	assert.InDelta(t, 200_000, est, relErr*200_000)
}

func TestHllSketchMergeDowngradesToSmallerLgK(t *testing.T) {
	a := buildHll(t, 12, TgtHllTypeHll4, 0, 100_000)
	b := buildHll(t, 10, TgtHllTypeHll4, 50_000, 150_000)
	require.NoError(t, a.Merge(b))
	assert.Equal(t, 10, a.GetLgConfigK())
	assert.Equal(t, TgtHllTypeHll4, a.GetTgtHllType())
	assert.True(t, a.isOutOfOrder())
	est, err := a.GetEstimate()
	require.NoError(t, err)
	relErr := getRelErrAllK(true, 10, 3)
	assert.InDelta(t, 150_000, est, relErr*150_000)
}

func TestHllMergeSeedMismatch(t *testing.T) {
	a, err := NewHllSketchWithSeed(10, TgtHllTypeHll4, 9001)
	require.NoError(t, err)
	b, err := NewHllSketchWithSeed(10, TgtHllTypeHll4, 1234)
	require.NoError(t, err)
	require.NoError(t, b.UpdateInt64(1))
	err = a.Merge(b)
	assert.ErrorIs(t, err, internal.ErrIncompatibleSeed)
	assert.True(t, a.IsEmpty()) // receiver untouched
}

func TestHllUnionEstimateMatchesSingleSketch(t *testing.T) {
	lgK := 11
	whole := buildHll(t, lgK, TgtHllTypeHll8, 0, 200_000)
	left := buildHll(t, lgK, TgtHllTypeHll8, 0, 100_000)
	right := buildHll(t, lgK, TgtHllTypeHll8, 100_000, 200_000)

	u, err := NewUnion(lgK)
	require.NoError(t, err)
	require.NoError(t, u.UpdateSketch(left))
	require.NoError(t, u.UpdateSketch(right))
	merged, err := u.GetResult(TgtHllTypeHll8)
	require.NoError(t, err)

	// both sketches hold the identical register multiset, only the
	// estimator path differs
	wholeComposite, err := whole.GetCompositeEstimate()
	require.NoError(t, err)
	mergedEst, err := merged.GetEstimate()
	require.NoError(t, err)
	assert.InEpsilon(t, wholeComposite, mergedEst, 1e-9)
}

func TestHllUnionDirectUpdates(t *testing.T) {
	u, err := NewUnion(11)
	require.NoError(t, err)
	for i := 0; i < 10_000; i++ {
		require.NoError(t, u.UpdateInt64(int64(i)))
	}
	est, err := u.GetEstimate()
	require.NoError(t, err)
	assert.InDelta(t, 10_000, est, 0.05*10_000)
}
