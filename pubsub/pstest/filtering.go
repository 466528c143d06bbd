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
	"strings"

	"go.einride.tech/aip/filtering"
	"go.einride.tech/aip/filtering/exprs"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

const (
	attributesStr = "attributes"
	hasPrefixStr  = "hasPrefix"
)

// ValidateFilter validates if the filter string is parsable.
func ValidateFilter(filter string) error {
	_, err := parseFilter(filter)
	return err
}

// parseFilter validates a filter string and returns a Filter.
func parseFilter(filter string) (filtering.Filter, error) {
	declarations, err := filtering.NewDeclarations(
		filtering.DeclareFunction(
			hasPrefixStr,
			filtering.NewFunctionOverload(hasPrefixStr,
				filtering.TypeBool,
				filtering.TypeString,
				filtering.TypeString,
			),
		),
		filtering.DeclareIdent(
			attributesStr,
			filtering.TypeMap(
				filtering.TypeString,
				filtering.TypeString,
			),
		),
		filtering.DeclareStandardFunctions(),
	)
	if err != nil {
		return filtering.Filter{}, err
	}
	return filtering.ParseFilter(filterRequest(filter), declarations)
}

// filterRequest implements filtering.Request.
type filterRequest string

func (r filterRequest) GetFilter() string {
	return string(r)
}

// subFilter selects the messages a subscription receives.
type subFilter struct {
	root *expr.Expr
}

// newSubFilter parses filter. An empty filter yields a nil *subFilter, which
// accepts every message.
func newSubFilter(filter string) (*subFilter, error) {
	if filter == "" {
		return nil, nil
	}
	f, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	return &subFilter{root: f.CheckedExpr.GetExpr()}, nil
}

func (f *subFilter) accepts(attrs map[string]string) bool {
	if f == nil || f.root == nil {
		return true
	}
	return eval(messageAttrs(attrs), f.root)
}

type messageAttrs map[string]string

func (a messageAttrs) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a messageAttrs) equals(key, value string) bool {
	v, ok := a[key]
	return ok && v == value
}

func (a messageAttrs) hasPrefix(key, prefix string) bool {
	v, ok := a[key]
	return ok && strings.HasPrefix(v, prefix)
}

// eval evaluates a filter expression against attrs. Expressions the fake
// does not understand evaluate to true.
func eval(attrs messageAttrs, e *expr.Expr) bool {
	var lhs, rhs *expr.Expr
	switch {
	case exprs.MatchFunction(filtering.FunctionNot, exprs.MatchAny(&lhs))(e):
		return !eval(attrs, lhs)
	case exprs.MatchFunction(filtering.FunctionAnd, exprs.MatchAny(&lhs), exprs.MatchAny(&rhs))(e):
		return eval(attrs, lhs) && eval(attrs, rhs)
	case exprs.MatchFunction(filtering.FunctionOr, exprs.MatchAny(&lhs), exprs.MatchAny(&rhs))(e):
		return eval(attrs, lhs) || eval(attrs, rhs)
	}

	var key, value string
	switch {
	// attributes.name = "com"
	case exprs.MatchFunction(filtering.FunctionEquals,
		exprs.MatchAnyMember(exprs.MatchText(attributesStr), &key),
		exprs.MatchAnyString(&value))(e):
		return attrs.equals(key, value)
	// attributes.name != "com"
	case exprs.MatchFunction(filtering.FunctionNotEquals,
		exprs.MatchAnyMember(exprs.MatchText(attributesStr), &key),
		exprs.MatchAnyString(&value))(e):
		return !attrs.equals(key, value)
	// attributes:name
	case exprs.MatchFunction(filtering.FunctionHas,
		exprs.MatchText(attributesStr),
		exprs.MatchAnyString(&key))(e):
		return attrs.has(key)
	// hasPrefix(attributes.name, "co")
	case exprs.MatchFunction(hasPrefixStr,
		exprs.MatchAnyMember(exprs.MatchText(attributesStr), &key),
		exprs.MatchAnyString(&value))(e):
		return attrs.hasPrefix(key, value)
	}
	return true
}
