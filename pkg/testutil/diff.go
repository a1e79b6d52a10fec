// Copyright (C) 2021  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between the spew dumps of want and got, for
// assertion failures where reflect.DeepEqual's "not equal" doesn't say
// which field differs. Returns "" if the two dump identically.
func Diff(want, got interface{}) string {
	wantDump := spew.Sdump(want)
	gotDump := spew.Sdump(got)
	if wantDump == gotDump {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(wantDump),
		B:        difflib.SplitLines(gotDump),
		FromFile: "want",
		ToFile:   "got",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return fmt.Sprintf("want:\n%s\ngot:\n%s", wantDump, gotDump)
	}
	return text
}

// RequireEqual fails t with a unified diff of the two values' spew dumps
// if want and got aren't reflect.DeepEqual, for assertions on a
// Resolution/Document-sized struct where a one-line "not equal" isn't
// enough to find what changed.
func RequireEqual(t *testing.T, want, got interface{}, msg string) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("%s:\n%s", msg, Diff(want, got))
	}
}
