/*
Copyright 2026 Google LLC

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

package spanner

import (
	"strings"

	"github.com/gcpkit/cloud-go/internal/testutil"
	"github.com/google/go-cmp/cmp"
)

func testEqual(a, b interface{}) bool {
	return testutil.Equal(a, b,
		cmp.AllowUnexported(Error{}, Mutation{}, Row{}),
		cmp.FilterPath(func(path cmp.Path) bool {
			// Ignore the internal state of wrapped status errors.
			if strings.Contains(path.GoString(), "{*status.Error}.") {
				return true
			}
			if strings.Contains(path.GoString(), ".err.(*status.Error).") {
				return true
			}
			return false
		}, cmp.Ignore()))
}
