// Copyright 2014 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package clock provides the monotonic microsecond time source the pacer
// and phase controller date every event from.
package clock

import "time"

var start = time.Now()

// NowUsec returns microseconds elapsed since process start on a monotonic
// clock. All pacer and phase math is expressed in this unit.
func NowUsec() int64 {
	return time.Since(start).Microseconds()
}

// UsecToDuration converts a microsecond count to a time.Duration.
func UsecToDuration(usec int64) time.Duration {
	return time.Duration(usec) * time.Microsecond
}
