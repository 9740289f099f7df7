/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/phi-audit/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show auditctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.write(info, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "auditctl %s\n", info)
			})
		},
	}
}
