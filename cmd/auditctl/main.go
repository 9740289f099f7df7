// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	auditctlcmd "github.com/telekom/phi-audit/pkg/auditctl/cmd"
)

func main() {
	root := auditctlcmd.NewRootCommand(auditctlcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
