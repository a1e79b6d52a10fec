// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package semver_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

func TestVersionSort(t *testing.T) {
	t.Parallel()
	testcases := map[string][]string{
		"final-releases": {
			"0.9",
			"0.9.1",
			"0.9.2",
			"0.9.10",
			"1.0",
			"1.0.1",
			"1.1",
			"2.0",
		},
		"stability-ladder": {
			"1.0.0-dev1",
			"1.0.0-alpha1",
			"1.0.0-beta1",
			"1.0.0-RC1",
			"1.0.0",
		},
		"dev-branches-before-numeric": {
			"dev-master",
			"1.0.0-dev1",
		},
	}
	for name, versions := range testcases {
		name, versions := name, versions
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			parsed := make([]semver.Version, len(versions))
			for i, s := range versions {
				v, err := semver.ParseVersion(s)
				require.NoError(t, err, "parsing %q", s)
				parsed[i] = v
			}
			shuffled := append([]semver.Version(nil), parsed...)
			sort.SliceStable(shuffled, func(i, j int) bool {
				return shuffled[i].String() > shuffled[j].String() // bogus order to force re-sort
			})
			sort.SliceStable(shuffled, func(i, j int) bool {
				return shuffled[i].Less(shuffled[j])
			})
			for i := range parsed {
				assert.Truef(t, shuffled[i].Equal(parsed[i]),
					"position %d: expected %v got %v", i, parsed[i], shuffled[i])
			}
		})
	}
}

func TestVersionParseRoundTrip(t *testing.T) {
	t.Parallel()
	for _, s := range []string{
		"1.2.3", "v1.2.3", "1.2.3-alpha1", "1.2.3-RC2", "1.2", "1", "dev-master", "4.x-dev",
	} {
		v, err := semver.ParseVersion(s)
		require.NoError(t, err)
		v2, err := semver.ParseVersion(v.String())
		require.NoError(t, err)
		assert.True(t, v.Equal(v2), "round-trip %q -> %q -> %q", s, v.String(), v2.String())
	}
}

func TestVersionParseError(t *testing.T) {
	t.Parallel()
	_, err := semver.ParseVersion("not-a-version!!")
	require.Error(t, err)
	var parseErr *semver.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "not-a-version!!", parseErr.Input)
}

func TestZeroMajorCaretPinsMinor(t *testing.T) {
	t.Parallel()
	c, err := semver.ParseConstraint("^0.2.3")
	require.NoError(t, err)

	match, err := semver.ParseVersion("0.2.9")
	require.NoError(t, err)
	assert.True(t, c.Matches(match))

	noMatch, err := semver.ParseVersion("0.3.0")
	require.NoError(t, err)
	assert.False(t, c.Matches(noMatch))
}
