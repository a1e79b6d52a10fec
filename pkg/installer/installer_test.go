// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package installer_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendorsmith/vendorsmith/pkg/cas"
	"github.com/vendorsmith/vendorsmith/pkg/installer"
	"github.com/vendorsmith/vendorsmith/pkg/packagist"
	"github.com/vendorsmith/vendorsmith/pkg/resolve"
	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

func buildZip(t *testing.T, entries map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func mustVersion(t *testing.T, s string) semver.Version {
	t.Helper()
	v, err := semver.ParseVersion(s)
	require.NoError(t, err)
	return v
}

func TestInstallDownloadsVerifiesExtractsAndCaches(t *testing.T) {
	t.Parallel()
	zipBytes, shasum := buildZip(t, map[string]string{
		"pkg-v1/composer.json": `{"name":"vendor/pkg"}`,
		"pkg-v1/src/Lib.php":   "<?php\n",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)

	vendorDir := filepath.Join(t.TempDir(), "vendor")
	pkg := resolve.Package{
		Name:    "vendor/pkg",
		Version: mustVersion(t, "1.0.0"),
		Dist:    &packagist.Dist{Type: "zip", URL: srv.URL + "/pkg.zip", Shasum: shasum},
	}

	res, err := installer.Install(context.Background(), store, []resolve.Package{pkg}, installer.Config{VendorDir: vendorDir})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Installed)
	assert.Empty(t, res.Failures)

	body, err := os.ReadFile(filepath.Join(vendorDir, "vendor/pkg", "src/Lib.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php\n", string(body))

	_, cached := store.Get(pkg.Dist.URL)
	assert.True(t, cached, "a successful install must populate the CAS")
}

func TestInstallSecondRunHitsCache(t *testing.T) {
	t.Parallel()
	zipBytes, shasum := buildZip(t, map[string]string{
		"pkg-v1/a.txt": "a",
		"pkg-v1/b.txt": "b",
	})

	var gets int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gets++
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)

	pkg := resolve.Package{
		Name:    "vendor/pkg",
		Version: mustVersion(t, "1.0.0"),
		Dist:    &packagist.Dist{Type: "zip", URL: srv.URL + "/pkg.zip", Shasum: shasum},
	}

	first := filepath.Join(t.TempDir(), "vendor")
	res, err := installer.Install(context.Background(), store, []resolve.Package{pkg}, installer.Config{VendorDir: first})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Installed)
	assert.Equal(t, 0, res.CacheHits)

	second := filepath.Join(t.TempDir(), "vendor")
	res, err = installer.Install(context.Background(), store, []resolve.Package{pkg}, installer.Config{VendorDir: second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Installed)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 1, gets, "the second install must be served entirely from the CAS, no re-download")
}

func TestInstallRejectsShasumMismatch(t *testing.T) {
	t.Parallel()
	zipBytes, _ := buildZip(t, map[string]string{"pkg-v1/a.txt": "a"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)

	pkg := resolve.Package{
		Name:    "vendor/pkg",
		Version: mustVersion(t, "1.0.0"),
		Dist:    &packagist.Dist{Type: "zip", URL: srv.URL + "/pkg.zip", Shasum: "0000000000000000000000000000000000000000000000000000000000000000"},
	}

	vendorDir := filepath.Join(t.TempDir(), "vendor")
	res, err := installer.Install(context.Background(), store, []resolve.Package{pkg}, installer.Config{VendorDir: vendorDir})
	require.Error(t, err)
	var agg *installer.AggregateError
	require.ErrorAs(t, err, &agg)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "vendor/pkg", res.Failures[0].Package)
}

func TestInstallAggregatesFailuresWithoutRollback(t *testing.T) {
	t.Parallel()
	goodZip, goodSum := buildZip(t, map[string]string{"pkg-v1/a.txt": "a"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.zip" {
			_, _ = w.Write(goodZip)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := cas.Open(t.TempDir())
	require.NoError(t, err)

	good := resolve.Package{
		Name: "vendor/good", Version: mustVersion(t, "1.0.0"),
		Dist: &packagist.Dist{Type: "zip", URL: srv.URL + "/good.zip", Shasum: goodSum},
	}
	bad := resolve.Package{
		Name: "vendor/bad", Version: mustVersion(t, "1.0.0"),
		Dist: &packagist.Dist{Type: "zip", URL: srv.URL + "/missing.zip"},
	}

	vendorDir := filepath.Join(t.TempDir(), "vendor")
	res, err := installer.Install(context.Background(), store, []resolve.Package{good, bad}, installer.Config{VendorDir: vendorDir})
	require.Error(t, err)
	assert.Equal(t, 1, res.Installed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "vendor/bad", res.Failures[0].Package)

	_, err = os.Stat(filepath.Join(vendorDir, "vendor/good", "pkg-v1", "a.txt"))
	assert.NoError(t, err, "a successful peer install must survive a sibling's failure")
}
