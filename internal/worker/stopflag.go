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

package worker

import "sync/atomic"

// NewStopFlag allocates the process-wide atomic stop flag of spec §5: set
// on SIGINT (via SetStopFlag) or by a worker's RequestStop once the run
// deadline passes or has_done() reports true; read from every worker;
// write-once 0->1.
func NewStopFlag() *int32 {
	var f int32
	return &f
}

func loadStopFlag(f *int32) bool {
	return atomic.LoadInt32(f) != 0
}

func storeStopFlag(f *int32) {
	atomic.StoreInt32(f, 1)
}

// SetStopFlag requests a stop on f from outside any worker — used by the
// coordinator when its stop channel (closed on SIGINT) fires. The run
// deadline is enforced by the workers themselves through RequestStop.
func SetStopFlag(f *int32) {
	storeStopFlag(f)
}
