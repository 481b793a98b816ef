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

import "math"

// The ICON estimator inverts the expected coupon-collection curve: given an
// observed coupon count c, it returns the cardinality n at which a sketch of
// this lgK collects c coupons in expectation. The curve is strictly
// increasing in n, so the inversion is a plain bisection and the resulting
// estimator is monotone by construction.

// expectedCoupons returns E[C] for a stream of n distinct items. An item
// lands on column col with probability 2^(-(col+1)), and column 63 absorbs
// the tail. Each of the K rows is independent.
func expectedCoupons(lgK int, n float64) float64 {
	k := float64(int64(1) << lgK)
	total := 0.0
	for col := 0; col < 64; col++ {
		p := math.Exp2(-float64(col + 1))
		if col == 63 {
			p *= 2 // the last column also collects all longer runs
		}
		// P[cell occupied] = 1 - (1 - p/k)^n, computed in log space.
		total += k * -math.Expm1(n*math.Log1p(-p/k))
	}
	return total
}

func iconEstimate(lgK int, numCoupons uint64) float64 {
	if numCoupons == 0 {
		return 0.0
	}
	if numCoupons < 2 {
		return 1.0
	}
	c := float64(numCoupons)
	k := float64(int64(1) << lgK)

	// Bracket the root. E[C] <= n always, so n >= c.
	lo := c
	hi := math.Max(2*c, 2*k)
	for expectedCoupons(lgK, hi) < c {
		hi *= 2
		if hi > k*math.Exp2(58) {
			return hi // the matrix is essentially full
		}
	}
	for i := 0; i < 100 && (hi-lo) > 1e-9*hi; i++ {
		mid := 0.5 * (lo + hi)
		if expectedCoupons(lgK, mid) < c {
			lo = mid
		} else {
			hi = mid
		}
	}
	result := 0.5 * (lo + hi)
	if result < c {
		return c
	}
	return result
}
