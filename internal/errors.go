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
	"errors"
	"fmt"
)

// Error kinds reported by all sketch families. Callers match them with
// errors.Is; the wrapped message carries the detail.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrFormat           = errors.New("possible corruption, invalid format")
	ErrVersion          = errors.New("unsupported serial version")
	ErrFamilyMismatch   = errors.New("family id mismatch")
	ErrIncompatibleSeed = errors.New("incompatible seed hashes")
	ErrIo               = errors.New("i/o error")
)

// NewError wraps one of the error kinds above with a detail message.
func NewError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
