/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package math provides the numeric helpers shared by the reporting layer.
package math

import "math"

// Median computes the classical midpoint median over a sequence that the
// caller has already sorted ascending. On even counts it averages the two
// middle elements and floors the result, matching the aggregator's duration
// semantics (milliseconds are always reported as whole numbers).
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return math.Floor((sorted[mid-1] + sorted[mid]) / 2)
}
