/*
SPDX-FileCopyrightText: 2026 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/phi-audit/pkg/envelope"
)

type generatedKey struct {
	KeyID   string `json:"keyId" yaml:"keyId"`
	Store   string `json:"store" yaml:"store"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
	Service string `json:"service,omitempty" yaml:"service,omitempty"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
}

func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the audit master key",
	}
	cmd.AddCommand(newKeysGenerateCommand())
	return cmd
}

func newKeysGenerateCommand() *cobra.Command {
	var (
		keyID   string
		store   string
		service string
		user    string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new master key",
		Long: `Generates a random master key. With --store stdout the base64 key is
printed, e.g. to be placed in PHI_AUDIT_MASTER_KEY. With --store keyring it
is written to the OS keyring and only its location is printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			crypto := rt.Config().Crypto
			if keyID == "" {
				keyID = crypto.KeyID
			}
			if service == "" {
				service = crypto.KeyringService
			}
			if user == "" {
				user = crypto.KeyringUser
			}

			key, err := envelope.GenerateMasterKey(keyID)
			if err != nil {
				return err
			}

			out := generatedKey{KeyID: keyID, Store: store}
			switch store {
			case "stdout":
				out.Key = key.Encoded()
			case "keyring":
				if err := envelope.StoreInKeyring(service, user, key); err != nil {
					return err
				}
				out.Service, out.User = service, user
			default:
				return fmt.Errorf("unknown --store %q: supported values are stdout, keyring", store)
			}

			return rt.write(out, func(w io.Writer) {
				if out.Key != "" {
					_, _ = fmt.Fprintln(w, out.Key)
					return
				}
				_, _ = fmt.Fprintf(w, "stored key %s in keyring (service %s, user %s)\n", out.KeyID, out.Service, out.User)
			})
		},
	}

	cmd.Flags().StringVar(&keyID, "id", "", "Key id recorded in signatures (default: crypto.keyID)")
	cmd.Flags().StringVar(&store, "store", "stdout", "Where to put the key: stdout or keyring")
	cmd.Flags().StringVar(&service, "service", "", "Keyring service (default: crypto.keyringService)")
	cmd.Flags().StringVar(&user, "user", "", "Keyring user (default: crypto.keyringUser)")
	return cmd
}
