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

import "sync"

// The kxp byte lookup maps a byte of the bit matrix to the sum of
// 2^(-(i+1)) over its zero bits. Built lazily on first use, and again after
// Cleanup; every call takes the mutex, and a built slice is never written.
var (
	kxpLookupMu  sync.Mutex
	kxpLookupArr []float64
)

func kxpByteLookup() []float64 {
	kxpLookupMu.Lock()
	defer kxpLookupMu.Unlock()
	if kxpLookupArr == nil {
		arr := make([]float64, 256)
		for b := 0; b < 256; b++ {
			sum := 0.0
			for i := 0; i < 8; i++ {
				if b&(1<<i) == 0 {
					sum += 1.0 / float64(int64(1)<<(i+1))
				}
			}
			arr[b] = sum
		}
		kxpLookupArr = arr
	}
	return kxpLookupArr
}

// Cleanup releases the process-wide lookup tables. It is a no-op if they
// were never initialized and must not race any in-flight sketch operation.
func Cleanup() {
	kxpLookupMu.Lock()
	kxpLookupArr = nil
	kxpLookupMu.Unlock()
}
