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

var (
	iconErrorConstant = math.Log(2.0)                  //0.693147180559945286
	hipErrorConstant  = math.Sqrt(math.Log(2.0) / 2.0) //0.588705011257737332

	// Empirically measured high-side relative error, in units of 1e-4,
	// indexed by (lgK - 4, kappa - 1) for lgK up to 14. Above that the
	// asymptotic constants apply.
	iconHighSideData = []int{
		//1,    2,    3,   kappa
		8031, 8559, 9309, // lgK 4
		7084, 7959, 8660, // 5
		7141, 7514, 7876, // 6
		7458, 7430, 7572, // 7
		6892, 7141, 7497, // 8
		6889, 7132, 7290, // 9
		7075, 7118, 7185, // 10
		7040, 7047, 7085, // 11
		6993, 7019, 7053, // 12
		6953, 7001, 6983, // 13
		6944, 6966, 7004, // 14
	}

	hipHighSideData = []int{
		//1,    2,    3,   kappa
		5855, 6688, 7391, // lgK 4
		5886, 6444, 6923, // 5
		5885, 6254, 6594, // 6
		5889, 6134, 6326, // 7
		5900, 6072, 6203, // 8
		5875, 6005, 6089, // 9
		5871, 5980, 6040, // 10
		5889, 5941, 6015, // 11
		5871, 5926, 5973, // 12
		5866, 5901, 5915, // 13
		5880, 5914, 5953, // 14
	}
)

func relativeEps(lgK int, kappa int, highSideData []int, errorConstant float64) float64 {
	x := errorConstant
	if lgK <= 14 {
		x = float64(highSideData[(3*(lgK-4))+(kappa-1)]) / 10000.0
	}
	rel := x / math.Sqrt(float64(uint64(1)<<lgK))
	return float64(kappa) * rel
}

func iconConfidenceLB(lgK int, numCoupons uint64, kappa int) float64 {
	if numCoupons == 0 {
		return 0.0
	}
	eps := relativeEps(lgK, kappa, iconHighSideData, iconErrorConstant)
	result := iconEstimate(lgK, numCoupons) / (1.0 + eps)
	return math.Max(result, float64(numCoupons))
}

func iconConfidenceUB(lgK int, numCoupons uint64, kappa int) float64 {
	if numCoupons == 0 {
		return 0.0
	}
	eps := relativeEps(lgK, kappa, iconHighSideData, iconErrorConstant)
	return math.Ceil(iconEstimate(lgK, numCoupons) / (1.0 - eps))
}

func hipConfidenceLB(lgK int, numCoupons uint64, hipEstAccum float64, kappa int) float64 {
	if numCoupons == 0 {
		return 0.0
	}
	eps := relativeEps(lgK, kappa, hipHighSideData, hipErrorConstant)
	result := hipEstAccum / (1.0 + eps)
	return math.Max(result, float64(numCoupons))
}

func hipConfidenceUB(lgK int, numCoupons uint64, hipEstAccum float64, kappa int) float64 {
	if numCoupons == 0 {
		return 0.0
	}
	eps := relativeEps(lgK, kappa, hipHighSideData, hipErrorConstant)
	return math.Ceil(hipEstAccum / (1.0 - eps))
}
