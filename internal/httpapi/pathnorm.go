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

package httpapi

import (
	"regexp"
	"strings"
)

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	idLikeSegment  = regexp.MustCompile(`^[A-Za-z0-9]+-[A-Za-z0-9-]+$`)
)

// normalizePath replaces dynamic path segments (numeric ids, uuid-ish
// hyphenated tokens) with ":id" to bound per-route Prometheus label
// cardinality. Only all-digit and hyphenated segments are replaced; a name
// without a hyphen, such as "apply_workflow", is kept as-is.
func normalizePath(path string) string {
	if path == "" || path == "/" {
		return path
	}
	trailingSlash := strings.HasSuffix(path, "/") && path != "/"

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if numericSegment.MatchString(seg) || idLikeSegment.MatchString(seg) {
			segments[i] = ":id"
		}
	}

	out := strings.Join(segments, "/")
	if trailingSlash && !strings.HasSuffix(out, "/") {
		out += "/"
	}
	return out
}
