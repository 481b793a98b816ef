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
	"github.com/twmb/murmur3"
)

// DefaultUpdateSeed is the seed used by all sketches unless the caller
// supplies one. Two sketches can only be merged if they were built with the
// same seed.
const DefaultUpdateSeed = uint64(9001)

// HashSlice128 maps an arbitrary byte buffer and a seed to a 128-bit hash.
// This is the MurmurHash3 x64 variant with the full-mixing finalizer.
func HashSlice128(bs []byte, seed uint64) (uint64, uint64) {
	return murmur3.SeedSum128(seed, seed, bs)
}

// ComputeSeedHash returns the 16-bit fingerprint of the given seed, defined
// as the low 16 bits of MurmurHash3(8 zero bytes, seed). It is stored in
// serialized images so that an incompatible seed is rejected on read.
func ComputeSeedHash(seed uint64) (uint16, error) {
	var zeros [8]byte
	h1, _ := murmur3.SeedSum128(seed, seed, zeros[:])
	seedHash := uint16(h1 & 0xFFFF)
	if seedHash == 0 {
		return 0, NewError(ErrInvalidArgument,
			"the given seed hashed to zero, use a different seed")
	}
	return seedHash, nil
}

const (
	c1 = 0x87c37b91114253d5
	c2 = 0x4cf5ad432745937f
)

type murmurState struct {
	h1 uint64
	h2 uint64
}

// HashInt64Slice128 hashes a slice of int64 values without copying them into
// a byte buffer. The result is identical to hashing the same longs as
// little-endian bytes.
func HashInt64Slice128(key []int64, seed uint64) (uint64, uint64) {
	state := murmurState{h1: seed, h2: seed}

	// Full 128-bit blocks of 2 longs, possibly leaving a 1-long remainder.
	nblocks := len(key) >> 1
	for i := 0; i < nblocks; i++ {
		k1 := uint64(key[i<<1])
		k2 := uint64(key[(i<<1)+1])
		state.blockMix128(k1, k2)
	}

	tail := nblocks << 1
	k1 := uint64(0)
	if len(key)-tail != 0 {
		k1 = uint64(key[tail])
	}
	return state.finalMix128(k1, 0, uint64(len(key))<<3)
}

func mixK1(k1 uint64) uint64 {
	k1 *= c1
	k1 = (k1 << 31) | (k1 >> (64 - 31))
	k1 *= c2
	return k1
}

func mixK2(k2 uint64) uint64 {
	k2 *= c2
	k2 = (k2 << 33) | (k2 >> (64 - 33))
	k2 *= c1
	return k2
}

func finalMix64(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func (m *murmurState) blockMix128(k1, k2 uint64) {
	m.h1 ^= mixK1(k1)
	m.h1 = (m.h1 << 27) | (m.h1 >> (64 - 27))
	m.h1 += m.h2
	m.h1 = m.h1*5 + 0x52dce729

	m.h2 ^= mixK2(k2)
	m.h2 = (m.h2 << 31) | (m.h2 >> (64 - 31))
	m.h2 += m.h1
	m.h2 = m.h2*5 + 0x38495ab5
}

func (m *murmurState) finalMix128(k1, k2, inputLengthBytes uint64) (uint64, uint64) {
	m.h1 ^= mixK1(k1)
	m.h2 ^= mixK2(k2)
	m.h1 ^= inputLengthBytes
	m.h2 ^= inputLengthBytes
	m.h1 += m.h2
	m.h2 += m.h1
	m.h1 = finalMix64(m.h1)
	m.h2 = finalMix64(m.h2)
	m.h1 += m.h2
	m.h2 += m.h1
	return m.h1, m.h2
}
