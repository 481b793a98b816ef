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

package internal

import (
	"math"
	"math/bits"
	"reflect"
)

// InvPow2 returns 2^(-e) for 0 <= e <= 1022; e = 1023 yields 0, and any
// other e an error.
func InvPow2(e int) (float64, error) {
	if e < 0 || e > 1023 {
		return 0, NewError(ErrInvalidArgument,
			"e cannot be negative or greater than 1023: %d", e)
	}
	return math.Float64frombits((1023 - uint64(e)) << 52), nil
}

// CeilPowerOf2 returns the smallest power of 2 greater than or equal to n,
// capped at 2^30.
func CeilPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	topIntPwrOf2 := 1 << 30
	if n >= topIntPwrOf2 {
		return topIntPwrOf2
	}
	return 1 << (64 - bits.LeadingZeros64(uint64(n-1)))
}

// FloorPowerOf2 returns the largest power of 2 less than or equal to n.
func FloorPowerOf2(n int64) int64 {
	if n <= 1 {
		return 1
	}
	return int64(1) << (63 - bits.LeadingZeros64(uint64(n)))
}

// IsPowerOf2 returns true if the given number is a positive power of 2.
func IsPowerOf2(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// ExactLog2 returns log2 of the given positive power of 2.
func ExactLog2(powerOf2 int) (int, error) {
	if !IsPowerOf2(powerOf2) {
		return 0, NewError(ErrInvalidArgument,
			"argument must be a positive power of 2: %d", powerOf2)
	}
	return bits.TrailingZeros64(uint64(powerOf2)), nil
}

// GetShortLE gets a 16-bit value from a byte array in little-endian order.
func GetShortLE(array []byte, offset int) int {
	return int(array[offset]) | (int(array[offset+1]) << 8)
}

// PutShortLE puts a 16-bit value into a byte array in little-endian order.
func PutShortLE(array []byte, offset int, value int) {
	array[offset] = byte(value)
	array[offset+1] = byte(value >> 8)
}

// IsNil reports whether the given value of a generic comparable type is an
// untyped nil or a nil pointer/interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
