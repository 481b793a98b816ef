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
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSlice128Deterministic(t *testing.T) {
	h1a, h2a := HashSlice128([]byte("datasketches"), DefaultUpdateSeed)
	h1b, h2b := HashSlice128([]byte("datasketches"), DefaultUpdateSeed)
	assert.Equal(t, h1a, h1b)
	assert.Equal(t, h2a, h2b)

	h1c, _ := HashSlice128([]byte("datasketches"), 1234)
	assert.NotEqual(t, h1a, h1c)
}

func TestHashInt64SliceMatchesByteHash(t *testing.T) {
	// hashing longs directly equals hashing their little-endian bytes
	cases := [][]int64{
		{0},
		{-1},
		{1, 2},
		{1, 2, 3},
		{9001, -42, 1 << 62, 7, 0},
	}
	for _, longs := range cases {
		bytes := make([]byte, 8*len(longs))
		for i, v := range longs {
			binary.LittleEndian.PutUint64(bytes[i*8:], uint64(v))
		}
		wantLo, wantHi := HashSlice128(bytes, DefaultUpdateSeed)
		gotLo, gotHi := HashInt64Slice128(longs, DefaultUpdateSeed)
		assert.Equal(t, wantLo, gotLo, "longs=%v", longs)
		assert.Equal(t, wantHi, gotHi, "longs=%v", longs)
	}
}

func TestComputeSeedHash(t *testing.T) {
	sh1, err := ComputeSeedHash(DefaultUpdateSeed)
	require.NoError(t, err)
	sh2, err := ComputeSeedHash(DefaultUpdateSeed)
	require.NoError(t, err)
	assert.Equal(t, sh1, sh2)
	assert.NotZero(t, sh1)

	sh3, err := ComputeSeedHash(12345)
	require.NoError(t, err)
	assert.NotEqual(t, sh1, sh3)
}

func TestInvPow2(t *testing.T) {
	v, err := InvPow2(0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
	v, err = InvPow2(10)
	require.NoError(t, err)
	assert.Equal(t, 1.0/1024.0, v)
	_, err = InvPow2(-1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = InvPow2(1024)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPowerOf2Helpers(t *testing.T) {
	assert.Equal(t, 1, CeilPowerOf2(0))
	assert.Equal(t, 1, CeilPowerOf2(1))
	assert.Equal(t, 4, CeilPowerOf2(3))
	assert.Equal(t, 4, CeilPowerOf2(4))
	assert.Equal(t, 8, CeilPowerOf2(5))

	assert.Equal(t, int64(1), FloorPowerOf2(1))
	assert.Equal(t, int64(4), FloorPowerOf2(7))
	assert.Equal(t, int64(8), FloorPowerOf2(8))

	assert.True(t, IsPowerOf2(64))
	assert.False(t, IsPowerOf2(63))
	assert.False(t, IsPowerOf2(0))

	lg, err := ExactLog2(1024)
	require.NoError(t, err)
	assert.Equal(t, 10, lg)
	_, err = ExactLog2(1000)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestShortLE(t *testing.T) {
	buf := make([]byte, 4)
	PutShortLE(buf, 1, 0xBEEF)
	assert.Equal(t, 0xBEEF, GetShortLE(buf, 1))
	assert.Equal(t, byte(0xEF), buf[1])
	assert.Equal(t, byte(0xBE), buf[2])
}

func TestFindWithInequality(t *testing.T) {
	arr := []int64{10, 20, 20, 30, 40}
	less := func(a, b int64) bool { return a < b }

	assert.Equal(t, -1, FindWithInequality(arr, 10, InequalityLT, less))
	assert.Equal(t, 0, FindWithInequality(arr, 15, InequalityLT, less))
	assert.Equal(t, 2, FindWithInequality(arr, 30, InequalityLT, less))

	assert.Equal(t, 0, FindWithInequality(arr, 10, InequalityLE, less))
	assert.Equal(t, 2, FindWithInequality(arr, 20, InequalityLE, less))
	assert.Equal(t, -1, FindWithInequality(arr, 5, InequalityLE, less))

	assert.Equal(t, 0, FindWithInequality(arr, 5, InequalityGE, less))
	assert.Equal(t, 1, FindWithInequality(arr, 20, InequalityGE, less))
	assert.Equal(t, -1, FindWithInequality(arr, 50, InequalityGE, less))

	assert.Equal(t, 3, FindWithInequality(arr, 20, InequalityGT, less))
	assert.Equal(t, -1, FindWithInequality(arr, 40, InequalityGT, less))
	assert.Equal(t, 4, FindWithInequality(arr, 35, InequalityGT, less))
}

func TestIsNil(t *testing.T) {
	assert.True(t, IsNil(nil))
	var p *int
	assert.True(t, IsNil(p))
	assert.False(t, IsNil(42))
	assert.False(t, IsNil("x"))
}
