// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vmcp

import (
	"strings"

	"github.com/google/uuid"
)

// Typed id prefixes. All identifiers are opaque strings; the prefix only
// aids debugging and log correlation.
const (
	IDPrefixConnection = "conn_"
	IDPrefixGateway    = "gw_"
	IDPrefixVirtualMCP = "vmcp_"
	IDPrefixToken      = "dtok_"
	IDPrefixAudit      = "audit_"
)

// NewID mints an opaque identifier with the given typed prefix.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
