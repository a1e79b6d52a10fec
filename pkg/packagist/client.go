// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package packagist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vendorsmith/vendorsmith/pkg/semver"
)

// PackagistBaseURL is the default Composer metadata repository.
const PackagistBaseURL = "https://repo.packagist.org"

// retry policy per the repository client's transient-error contract: 3
// attempts, 100ms base, doubling, full jitter.
const (
	retryMax     = 2 // 1 initial attempt + 2 retries = 3 attempts total
	retryWaitMin = 100 * time.Millisecond
	retryWaitMax = 4 * time.Second
)

// Client talks to a Packagist-compatible repository over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	UserAgent  string

	metadataURLTmpl string
}

func (c *Client) fillDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = PackagistBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = "vsm/0 (+https://github.com/vendorsmith/vendorsmith)"
	}
	if c.HTTPClient == nil {
		rc := retryablehttp.NewClient()
		rc.RetryMax = retryMax
		rc.RetryWaitMin = retryWaitMin
		rc.RetryWaitMax = retryWaitMax
		rc.Backoff = fullJitterBackoff
		rc.CheckRetry = checkRetry
		rc.Logger = nil
		c.HTTPClient = rc.StandardClient()
	}
}

// fullJitterBackoff implements "100ms base, 2x growth, full jitter":
// sleep is drawn uniformly from [0, min*2^attempt], capped at max.
func fullJitterBackoff(min, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
	ceiling := min << attemptNum
	if ceiling <= 0 || ceiling > max {
		ceiling = max
	}
	//nolint:gosec // backoff jitter has no security relevance
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// checkRetry retries on transient network errors and 5xx/408/429
// responses, but returns other 4xx statuses immediately, per spec.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// HTTPError is returned for a non-retried, non-2xx HTTP response.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("packagist: HTTP %s", e.Status)
}

func (c *Client) get(ctx context.Context, requestURL string) ([]byte, int, error) {
	c.fillDefaults()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("packagist: GET %q: %w", requestURL, err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("packagist: GET %q: %w", requestURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("packagist: GET %q: reading body: %w", requestURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return body, resp.StatusCode, nil
}

// FetchRoot fetches and parses the `packages.json` root descriptor.
func (c *Client) FetchRoot(ctx context.Context) (RootDescriptor, error) {
	c.fillDefaults()
	body, _, err := c.get(ctx, strings.TrimRight(c.BaseURL, "/")+"/packages.json")
	if err != nil {
		return RootDescriptor{}, err
	}
	var root RootDescriptor
	if err := json.Unmarshal(body, &root); err != nil {
		return RootDescriptor{}, fmt.Errorf("packagist: decode packages.json: %w", err)
	}
	c.metadataURLTmpl = root.MetadataURL
	return root, nil
}

// FetchMetadata fetches and decodes every version known for a single
// package. HTTP 404 is a valid "no such package" outcome, reported as a
// nil, nil return rather than an error.
func (c *Client) FetchMetadata(ctx context.Context, name string) ([]PackageVersion, error) {
	c.fillDefaults()
	if c.metadataURLTmpl == "" {
		if _, err := c.FetchRoot(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := c.metadataURL(name)
	body, status, err := c.get(ctx, reqURL)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}

	resp, err := DecodeMetadata(body)
	if err != nil {
		return nil, err
	}
	records, ok := resp.Packages[name]
	if !ok {
		return nil, nil
	}
	return decodeVersions(name, records), nil
}

// BatchResult is one element of FetchBatch's return, pairing a requested
// package name with either its versions or the error fetching them.
type BatchResult struct {
	Name     string
	Versions []PackageVersion
	Err      error
}

// FetchBatch fetches metadata for several packages. It does not itself
// bound concurrency; callers that want bounded parallelism (as the
// streaming fetcher does) should call FetchMetadata directly from their
// own worker pool instead.
func (c *Client) FetchBatch(ctx context.Context, names []string) []BatchResult {
	out := make([]BatchResult, len(names))
	for i, name := range names {
		versions, err := c.FetchMetadata(ctx, name)
		out[i] = BatchResult{Name: name, Versions: versions, Err: err}
	}
	return out
}

func (c *Client) metadataURL(name string) string {
	tmpl := c.metadataURLTmpl
	if tmpl == "" {
		tmpl = "/p2/%package%.json"
	}
	u := strings.ReplaceAll(tmpl, "%package%", name)
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL + u
	}
	rel, err := url.Parse(u)
	if err != nil {
		return c.BaseURL + u
	}
	return base.ResolveReference(rel).String()
}

// decodeVersions parses each wire VersionRecord into a PackageVersion.
// Unparseable versions or constraint expressions are silently dropped at
// intake, per spec.md §3.
func decodeVersions(name string, records []VersionRecord) []PackageVersion {
	out := make([]PackageVersion, 0, len(records))
	for _, rec := range records {
		v, err := semver.ParseVersion(rec.Version)
		if err != nil {
			continue
		}
		pv := PackageVersion{
			Name:        name,
			Version:     v,
			Dist:        rec.Dist,
			Source:      rec.Source,
			Description: rec.Description,
			Authors:     rec.Authors,
			License:     rec.License,
			Homepage:    rec.Homepage,
		}
		if pv.Require, err = parseConstraintMap(rec.Require); err != nil {
			continue
		}
		if pv.RequireDev, err = parseConstraintMap(rec.RequireDev); err != nil {
			continue
		}
		if pv.Replace, err = parseConstraintMap(rec.Replace); err != nil {
			continue
		}
		if pv.Provide, err = parseConstraintMap(rec.Provide); err != nil {
			continue
		}
		if pv.Conflict, err = parseConstraintMap(rec.Conflict); err != nil {
			continue
		}
		out = append(out, pv)
	}
	return out
}

func parseConstraintMap(m map[string]string) (map[string]semver.Constraint, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]semver.Constraint, len(m))
	for name, expr := range m {
		c, err := semver.ParseConstraint(expr)
		if err != nil {
			return nil, fmt.Errorf("packagist: %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}
