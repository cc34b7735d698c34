// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ExtractMeta pulls the MCP `_meta` object out of tool call arguments.
// Callers merge the result into the record's properties. Returns nil when
// the arguments carry no `_meta` object.
func ExtractMeta(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	meta := gjson.GetBytes(raw, "_meta")
	if !meta.Exists() || !meta.IsObject() {
		return nil
	}
	out := make(map[string]any, len(meta.Map()))
	for k, v := range meta.Map() {
		out[k] = v.Value()
	}
	return out
}
