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

import (
	"math/bits"

	"github.com/frankgrimes97/sketches-go/internal"
)

// The compressed payloads are Golomb-style bit streams packed into 32-bit
// words. Surprising-value pairs are sorted, delta-encoded, and each delta is
// written as numBaseBits literal low bits plus the high part in unary
// (ones terminated by a zero). Window bytes use the same code with a base
// width chosen to minimize the stream and recorded in its first three bits.

type bitWriter struct {
	words   []uint32
	bitbuf  uint64
	bufbits int
}

func (w *bitWriter) writeBits(v uint64, n int) {
	w.bitbuf |= v << w.bufbits
	w.bufbits += n
	for w.bufbits >= 32 {
		w.words = append(w.words, uint32(w.bitbuf))
		w.bitbuf >>= 32
		w.bufbits -= 32
	}
}

func (w *bitWriter) writeUnary(q uint64) {
	for q >= 16 {
		w.writeBits(0xFFFF, 16)
		q -= 16
	}
	// q ones followed by the terminating zero
	w.writeBits((uint64(1)<<q)-1, int(q)+1)
}

func (w *bitWriter) finish() []uint32 {
	if w.bufbits > 0 {
		w.words = append(w.words, uint32(w.bitbuf))
		w.bitbuf = 0
		w.bufbits = 0
	}
	return w.words
}

type bitReader struct {
	words   []uint32
	index   int
	bitbuf  uint64
	bufbits int
}

func (r *bitReader) fill() error {
	for r.bufbits <= 32 {
		if r.index >= len(r.words) {
			return nil
		}
		r.bitbuf |= uint64(r.words[r.index]) << r.bufbits
		r.bufbits += 32
		r.index++
	}
	return nil
}

func (r *bitReader) readBits(n int) (uint64, error) {
	if err := r.fill(); err != nil {
		return 0, err
	}
	if n > r.bufbits {
		return 0, internal.NewError(internal.ErrIo, "compressed stream exhausted")
	}
	v := r.bitbuf & ((uint64(1) << n) - 1)
	r.bitbuf >>= n
	r.bufbits -= n
	return v, nil
}

func (r *bitReader) readUnary() (uint64, error) {
	q := uint64(0)
	for {
		if err := r.fill(); err != nil {
			return 0, err
		}
		if r.bufbits == 0 {
			return 0, internal.NewError(internal.ErrIo, "compressed stream exhausted")
		}
		run := bits.TrailingZeros64(^r.bitbuf)
		if run >= r.bufbits {
			// all buffered bits are ones, consume and continue
			q += uint64(r.bufbits)
			r.bitbuf = 0
			r.bufbits = 0
			continue
		}
		q += uint64(run)
		r.bitbuf >>= uint(run + 1) // skip the ones and the terminating zero
		r.bufbits -= run + 1
		return q, nil
	}
}

func floorLog2(x uint64) int {
	if x < 1 {
		return 0
	}
	return 63 - bits.LeadingZeros64(x)
}

// pairBaseBits is the Golomb base width for the pair stream, recomputable
// at decode time from the same inputs.
func pairBaseBits(lgK int, numPairs int) int {
	if numPairs < 1 {
		return 0
	}
	maxPair := uint64(1) << (lgK + 6)
	avgDelta := maxPair / uint64(numPairs)
	if avgDelta < 2 {
		return 0
	}
	return floorLog2(avgDelta)
}

// compressPairs encodes the sorted pair array into a bit stream.
func compressPairs(pairs []int, lgK int) []uint32 {
	numBaseBits := pairBaseBits(lgK, len(pairs))
	w := &bitWriter{}
	prev := int64(-1)
	for _, p := range pairs {
		v := int64(uint32(p))
		delta := uint64(v - prev - 1)
		w.writeBits(delta&((uint64(1)<<numBaseBits)-1), numBaseBits)
		w.writeUnary(delta >> numBaseBits)
		prev = v
	}
	return w.finish()
}

// uncompressPairs decodes numPairs pairs from the bit stream.
func uncompressPairs(words []uint32, numPairs int, lgK int) ([]int, error) {
	numBaseBits := pairBaseBits(lgK, numPairs)
	r := &bitReader{words: words}
	pairs := make([]int, numPairs)
	prev := int64(-1)
	for i := 0; i < numPairs; i++ {
		lo, err := r.readBits(numBaseBits)
		if err != nil {
			return nil, err
		}
		hi, err := r.readUnary()
		if err != nil {
			return nil, err
		}
		delta := (hi << numBaseBits) | lo
		v := prev + 1 + int64(delta)
		if v >= int64(1)<<(lgK+6) {
			return nil, internal.NewError(internal.ErrFormat,
				"decoded pair out of range: %d", v)
		}
		pairs[i] = int(v)
		prev = v
	}
	return pairs, nil
}

// compressWindow encodes the K window bytes. The chosen base width is
// stored in the first three bits of the stream.
func compressWindow(window []byte) []uint32 {
	bestBits := 0
	bestCost := int64(1) << 62
	for b := 0; b <= 7; b++ {
		cost := int64(0)
		for _, v := range window {
			cost += int64(b) + int64(v>>b) + 1
		}
		if cost < bestCost {
			bestCost = cost
			bestBits = b
		}
	}
	w := &bitWriter{}
	w.writeBits(uint64(bestBits), 3)
	for _, v := range window {
		w.writeBits(uint64(v)&((uint64(1)<<bestBits)-1), bestBits)
		w.writeUnary(uint64(v) >> bestBits)
	}
	return w.finish()
}

// uncompressWindow decodes k window bytes from the bit stream.
func uncompressWindow(words []uint32, k int) ([]byte, error) {
	r := &bitReader{words: words}
	baseBits, err := r.readBits(3)
	if err != nil {
		return nil, err
	}
	window := make([]byte, k)
	for i := 0; i < k; i++ {
		lo, err := r.readBits(int(baseBits))
		if err != nil {
			return nil, err
		}
		hi, err := r.readUnary()
		if err != nil {
			return nil, err
		}
		v := (hi << baseBits) | lo
		if v > 0xFF {
			return nil, internal.NewError(internal.ErrFormat,
				"decoded window byte out of range: %d", v)
		}
		window[i] = byte(v)
	}
	return window, nil
}
