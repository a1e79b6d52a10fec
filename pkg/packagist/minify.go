// Copyright (C) 2020-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package packagist

import (
	"encoding/json"
	"fmt"
)

// unsetSentinel is the minifier's marker for "this field is explicitly
// absent", as opposed to simply omitted from the wire record (which means
// "inherit the previous record's value").
const unsetSentinel = "__unset"

// DecodeMetadata parses a per-package metadata response, expanding any
// minified ("composer/2.0"-style) version records before returning typed
// VersionRecords. Expansion must happen before a record is validated or
// unmarshaled into its final field types, since the same raw bytes mean
// different things depending on whether the field key was present at all.
func DecodeMetadata(data []byte) (MetadataResponse, error) {
	var raw struct {
		Packages map[string][]map[string]json.RawMessage `json:"packages"`
		Minified string                                  `json:"minified,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return MetadataResponse{}, fmt.Errorf("packagist: decode metadata: %w", err)
	}

	out := MetadataResponse{
		Packages: make(map[string][]VersionRecord, len(raw.Packages)),
		Minified: raw.Minified,
	}
	for name, rawRecords := range raw.Packages {
		records, err := expandRecords(rawRecords)
		if err != nil {
			return MetadataResponse{}, fmt.Errorf("packagist: decode metadata: package %q: %w", name, err)
		}
		out.Packages[name] = records
	}
	return out, nil
}

// expandRecords folds over rawRecords in array order, maintaining a
// last-seen buffer of raw field values. A field set to the "__unset"
// sentinel clears that key from the buffer; any other present field
// replaces it; an absent field is left untouched, so it inherits whatever
// the buffer currently holds.
func expandRecords(rawRecords []map[string]json.RawMessage) ([]VersionRecord, error) {
	buffer := make(map[string]json.RawMessage)
	out := make([]VersionRecord, 0, len(rawRecords))

	for _, fields := range rawRecords {
		for key, val := range fields {
			if isUnset(val) {
				delete(buffer, key)
				continue
			}
			buffer[key] = val
		}

		merged := make(map[string]json.RawMessage, len(buffer))
		for k, v := range buffer {
			merged[k] = v
		}
		mergedJSON, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}

		var rec VersionRecord
		if err := json.Unmarshal(mergedJSON, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func isUnset(val json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return false
	}
	return s == unsetSentinel
}
