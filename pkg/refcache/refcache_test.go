// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package refcache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vendorsmith/vendorsmith/pkg/refcache"
)

func TestCanonicalizeURL(t *testing.T) {
	t.Parallel()
	testcases := []struct{ in, want string }{
		{"https://github.com/foo/bar.git", "https://github.com/foo/bar"},
		{"https://GitHub.com/foo/bar/", "https://github.com/foo/bar"},
		{"https://github.com:443/foo/bar.git", "https://github.com/foo/bar"},
		{"HTTPS://github.com/foo/bar", "https://github.com/foo/bar"},
	}
	for _, tc := range testcases {
		assert.Equal(t, tc.want, refcache.CanonicalizeURL(tc.in), "input %q", tc.in)
	}
}

func TestCacheKeyStableAndCollisionResistant(t *testing.T) {
	t.Parallel()
	k1 := refcache.CacheKey(refcache.CanonicalizeURL("https://github.com/foo/bar.git"))
	k2 := refcache.CacheKey(refcache.CanonicalizeURL("https://github.com/foo/bar"))
	assert.Equal(t, k1, k2, "equivalent URLs must hash to the same key")

	k3 := refcache.CacheKey(refcache.CanonicalizeURL("https://github.com/foo/baz"))
	assert.NotEqual(t, k1, k3)
}
