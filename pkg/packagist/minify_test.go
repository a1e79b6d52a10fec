// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package packagist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorsmith/vendorsmith/pkg/packagist"
)

func TestDecodeMetadataMinifierInheritance(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"packages": {
			"vendor/pkg": [
				{"name": "vendor/pkg", "version": "1.0.0", "require": {"php": ">=7.0"}, "description": "first"},
				{"name": "vendor/pkg", "version": "1.1.0"},
				{"name": "vendor/pkg", "version": "1.2.0", "description": "__unset"},
				{"name": "vendor/pkg", "version": "1.3.0", "require": {"php": ">=8.0"}}
			]
		},
		"minified": "composer/2.0"
	}`)

	resp, err := packagist.DecodeMetadata(raw)
	require.NoError(t, err)
	records := resp.Packages["vendor/pkg"]
	require.Len(t, records, 4)

	// 1.1.0 omits both fields, so it inherits from 1.0.0 wholesale.
	assert.Equal(t, "first", records[1].Description)
	assert.Equal(t, map[string]string{"php": ">=7.0"}, records[1].Require)

	// 1.2.0 explicitly unsets description but still inherits require.
	assert.Equal(t, "", records[2].Description)
	assert.Equal(t, map[string]string{"php": ">=7.0"}, records[2].Require)

	// 1.3.0 overrides require but still has no description (cleared at 1.2.0).
	assert.Equal(t, "", records[3].Description)
	assert.Equal(t, map[string]string{"php": ">=8.0"}, records[3].Require)
}

func TestDecodeMetadataMalformedJSON(t *testing.T) {
	t.Parallel()
	_, err := packagist.DecodeMetadata([]byte(`not json`))
	require.Error(t, err)
}
