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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawEstimateCorrectionFactors(t *testing.T) {
	// with kxq = K the raw estimate is correction * K
	assert.InDelta(t, 0.673*16, getHllRawEstimate(4, 16), 1e-12)
	assert.InDelta(t, 0.697*32, getHllRawEstimate(5, 32), 1e-12)
	assert.InDelta(t, 0.709*64, getHllRawEstimate(6, 64), 1e-12)
	k := float64(uint64(1) << 12)
	expected := 0.7213 / (1.0 + 1.079/k) * k
	assert.InDelta(t, expected, getHllRawEstimate(12, k), 1e-9)
}

func TestCompositeCurveMonotone(t *testing.T) {
	for _, lgK := range []int{4, 8, 12, 21} {
		curve := compositeCurve(lgK)
		require.Len(t, curve.xArr, compositeCurveLen)
		for i := 1; i < len(curve.xArr); i++ {
			assert.Greater(t, curve.xArr[i], curve.xArr[i-1], "lgK=%d i=%d", lgK, i)
		}
	}
}

func TestCompositeCurveIsBuiltOnce(t *testing.T) {
	a := compositeCurve(10)
	b := compositeCurve(10)
	assert.Same(t, a, b)
}

func TestCubicInterpolateRecoversCubic(t *testing.T) {
	// the Lagrange form reproduces any cubic exactly
	f := func(x float64) float64 { return 2*x*x*x - 3*x*x + x - 7 }
	got := cubicInterpolate(0, f(0), 1, f(1), 2, f(2), 3, f(3), 1.5)
	assert.InDelta(t, f(1.5), got, 1e-9)
}

func TestFindStraddle(t *testing.T) {
	xArr := []float64{1, 2, 4, 8, 16}
	assert.Equal(t, 0, findStraddle(xArr, 1.5))
	assert.Equal(t, 1, findStraddle(xArr, 2))
	assert.Equal(t, 3, findStraddle(xArr, 15.9))
}

func TestCouponEstimateNearCount(t *testing.T) {
	assert.Equal(t, 0.0, couponEstimate(0))
	for _, c := range []int{1, 10, 100, 10_000} {
		est := couponEstimate(c)
		assert.GreaterOrEqual(t, est, float64(c))
		assert.InDelta(t, float64(c), est, 0.01*float64(c)+1)
	}
}

func TestBitMapEstimateTracksCouponCollector(t *testing.T) {
	// with half the buckets unhit the estimate is close to K ln 2
	lgK := 10
	k := 1 << lgK
	est := getHllBitMapEstimate(lgK, 0, k/2)
	assert.InDelta(t, float64(k)*0.6931, est, float64(k)*0.01)
}

func TestCompositeEstimateOnFreshArray(t *testing.T) {
	arr := newHllArray(10, TgtHllTypeHll8)
	est, err := hllCompositeEstimate(arr)
	require.NoError(t, err)
	assert.Equal(t, 0.0, est)
}

func TestCompositeEstimateTracksTruthAfterOoo(t *testing.T) {
	for _, n := range []int{2_000, 20_000, 200_000} {
		sk, err := NewHllSketch(11, TgtHllTypeHll8)
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.NoError(t, sk.UpdateInt64(int64(i)))
		}
		require.Equal(t, curModeHll, sk.GetCurMode())
		est, err := sk.GetCompositeEstimate()
		require.NoError(t, err)
		// the composite estimator carries a larger error than HIP
		assert.InDelta(t, float64(n), est, 0.1*float64(n), "n=%d", n)
	}
}
