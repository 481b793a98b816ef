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
	"github.com/frankgrimes97/sketches-go/internal"
)

// couponCollection is the warm-up payload shared by the LIST and SET modes.
// In LIST mode it is a short unsorted array scanned linearly; in SET mode it
// is an open-addressed hash set grown on load factor. Coupons are lossless,
// so both modes report near-exact estimates.
type couponCollection struct {
	lgCouponArrInts int
	couponCount     int
	couponIntArr    []int
}

func newCouponList() couponCollection {
	return couponCollection{
		lgCouponArrInts: lgInitListSize,
		couponIntArr:    make([]int, 1<<lgInitListSize),
	}
}

func newCouponSet() couponCollection {
	return couponCollection{
		lgCouponArrInts: lgInitSetSize,
		couponIntArr:    make([]int, 1<<lgInitSetSize),
	}
}

func (c *couponCollection) copy() couponCollection {
	cp := *c
	cp.couponIntArr = make([]int, len(c.couponIntArr))
	copy(cp.couponIntArr, c.couponIntArr)
	return cp
}

// listUpdate appends a novel coupon. It reports whether the list is now at
// capacity and must be promoted.
func (c *couponCollection) listUpdate(coupon int) (full bool, err error) {
	length := 1 << c.lgCouponArrInts
	for i := 0; i < length; i++ {
		couponAtIdx := c.couponIntArr[i]
		if couponAtIdx == empty {
			c.couponIntArr[i] = coupon
			c.couponCount++
			return c.couponCount >= length, nil
		}
		if couponAtIdx == coupon {
			return false, nil // duplicate
		}
	}
	return false, internal.NewError(internal.ErrFormat,
		"coupon list is invalid: no empties and no duplicates")
}

// setUpdate inserts a novel coupon into the hash set, growing it on load.
// It reports whether the set has reached the density where the sketch must
// be promoted to a register array.
func (c *couponCollection) setUpdate(coupon int, lgConfigK int) (promote bool, err error) {
	index, err := findCoupon(c.couponIntArr, c.lgCouponArrInts, coupon)
	if err != nil {
		return false, err
	}
	if index >= 0 {
		return false, nil // duplicate
	}
	c.couponIntArr[^index] = coupon
	c.couponCount++
	if resizeDenom*c.couponCount <= resizeNumber*(1<<c.lgCouponArrInts) {
		return false, nil
	}
	if c.lgCouponArrInts == lgConfigK-3 {
		return true, nil
	}
	c.lgCouponArrInts++
	grown := make([]int, 1<<c.lgCouponArrInts)
	for _, fetched := range c.couponIntArr {
		if fetched != empty {
			idx, err := findCoupon(grown, c.lgCouponArrInts, fetched)
			if err != nil {
				return false, err
			}
			if idx >= 0 {
				return false, internal.NewError(internal.ErrFormat,
					"duplicate found while growing coupon set")
			}
			grown[^idx] = fetched
		}
	}
	c.couponIntArr = grown
	return false, nil
}

// forEachCoupon visits every stored coupon.
func (c *couponCollection) forEachCoupon(fn func(coupon int) error) error {
	remaining := c.couponCount
	for _, coupon := range c.couponIntArr {
		if coupon != empty {
			if err := fn(coupon); err != nil {
				return err
			}
			remaining--
			if remaining == 0 {
				return nil
			}
		}
	}
	return nil
}

func (c *couponCollection) coupons() []int {
	out := make([]int, 0, c.couponCount)
	for _, coupon := range c.couponIntArr {
		if coupon != empty {
			out = append(out, coupon)
		}
	}
	return out
}

// findCoupon searches the coupon hash table. It returns the index of a
// duplicate, or the one's complement of the empty slot where the coupon
// belongs.
func findCoupon(array []int, lgArrInts int, coupon int) (int, error) {
	arrMask := len(array) - 1
	probe := coupon & arrMask
	loopIndex := probe

	for ok := true; ok; ok = probe != loopIndex {
		couponAtIdx := array[probe]
		if couponAtIdx == empty {
			return ^probe, nil
		} else if coupon == couponAtIdx {
			return probe, nil
		}
		stride := ((coupon & keyMask26) >> lgArrInts) | 1
		probe = (probe + stride) & arrMask
	}
	return 0, internal.NewError(internal.ErrFormat,
		"coupon not found and no empty slots")
}
