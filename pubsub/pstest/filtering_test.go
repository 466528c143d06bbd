// Copyright 2026 Google LLC
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

package pstest

import (
	"sort"
	"testing"

	"github.com/gcpkit/cloud-go/internal/testutil"
)

var filterTestAttrs = map[int]map[string]string{
	1: {"lang": "en", "name": "com", "timezone": "UTC"},
	2: {"lang": "en", "name": "net", "timezone": "UTC"},
	3: {"lang": "en", "name": "org", "timezone": "UTC"},
	4: {"lang": "cn", "name": "com", "timezone": "UTC"},
	5: {"lang": "cn", "name": "net", "timezone": "UTC"},
	6: {"lang": "cn", "name": "org", "timezone": "UTC"},
	7: {"lang": "jp", "name": "co", "timezone": "UTC"},
	8: {"lang": "jp", "timezone": "UTC"},
	9: {"name": "com", "timezone": "UTC"},
}

func TestSubFilterAccepts(t *testing.T) {
	for _, tc := range []struct {
		filter string
		want   []int
	}{
		{
			filter: `attributes.name = "com"`,
			want:   []int{1, 4, 9},
		},
		{
			filter: `attributes.name != "com"`,
			want:   []int{2, 3, 5, 6, 7, 8},
		},
		{
			filter: `hasPrefix(attributes.name, "co")`,
			want:   []int{1, 4, 7, 9},
		},
		{
			filter: "attributes:name",
			want:   []int{1, 2, 3, 4, 5, 6, 7, 9},
		},
		{
			filter: "NOT attributes:name",
			want:   []int{8},
		},
		{
			filter: `(NOT attributes:name) OR attributes.name = "co"`,
			want:   []int{7, 8},
		},
		{
			filter: `NOT (attributes:name OR attributes.lang = "jp")`,
			want:   nil,
		},
		{
			filter: `attributes.name = "com" AND -attributes:"lang"`,
			want:   []int{9},
		},
		{
			filter: "",
			want:   []int{1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
	} {
		t.Run(tc.filter, func(t *testing.T) {
			f, err := newSubFilter(tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			var got []int
			for k, attrs := range filterTestAttrs {
				if f.accepts(attrs) {
					got = append(got, k)
				}
			}
			sort.Ints(got)
			if !testutil.Equal(got, tc.want) {
				t.Errorf("accepted %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	if err := ValidateFilter(`attributes.lang = "en"`); err != nil {
		t.Errorf("valid filter: %v", err)
	}
	if err := ValidateFilter(`attributes.lang = `); err == nil {
		t.Error("got nil, want error for a truncated filter")
	}
}
