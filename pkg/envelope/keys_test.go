// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package envelope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMasterKey_ParseAndEncode(t *testing.T) {
	key, err := GenerateMasterKey("k1")
	require.NoError(t, err)

	parsed, err := ParseMasterKey("k1", key.Encoded()+"\n")
	require.NoError(t, err)
	assert.Equal(t, key.Encoded(), parsed.Encoded())
	assert.Equal(t, "k1", parsed.ID())

	_, err = ParseMasterKey("k1", "")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = ParseMasterKey("k1", "c2hvcnQ=")
	assert.ErrorIs(t, err, ErrKeySize)

	_, err = ParseMasterKey("k1", "%%%")
	assert.Error(t, err)
}

func TestMasterKey_DerivesIndependentKeys(t *testing.T) {
	key, err := GenerateMasterKey("k1")
	require.NoError(t, err)

	enc, err := key.Derive(PurposeEncryption)
	require.NoError(t, err)
	sig, err := key.Derive(PurposeSigning)
	require.NoError(t, err)
	assert.Len(t, enc, 32)
	assert.NotEqual(t, enc, sig)

	again, err := key.Derive(PurposeEncryption)
	require.NoError(t, err)
	assert.Equal(t, enc, again)
}

func TestMasterKey_BuildsProviders(t *testing.T) {
	key, err := GenerateMasterKey("k1")
	require.NoError(t, err)

	enc, err := key.Encryptor()
	require.NoError(t, err)
	assert.Equal(t, "k1", enc.KeyID())

	for _, alg := range []string{AlgHMACSHA256, AlgEd25519} {
		signer, err := key.Signer(alg)
		require.NoError(t, err)
		assert.Equal(t, alg, signer.Algorithm())
	}

	_, err = key.Signer("rot13")
	assert.Error(t, err)
}

func TestLoadFromEnvAndFile(t *testing.T) {
	key, err := GenerateMasterKey("k1")
	require.NoError(t, err)

	t.Setenv("TEST_PHI_AUDIT_KEY", key.Encoded())
	fromEnv, err := LoadFromEnv("k1", "TEST_PHI_AUDIT_KEY")
	require.NoError(t, err)
	assert.Equal(t, key.Encoded(), fromEnv.Encoded())

	_, err = LoadFromEnv("k1", "TEST_PHI_AUDIT_KEY_UNSET")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte(key.Encoded()), 0o600))
	fromFile, err := LoadFromFile("k1", path)
	require.NoError(t, err)
	assert.Equal(t, key.Encoded(), fromFile.Encoded())
}

func TestKeyringRoundTrip(t *testing.T) {
	keyring.MockInit()

	_, err := LoadFromKeyring("k1", "phi-audit-test", "master-key")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	key, err := GenerateMasterKey("k1")
	require.NoError(t, err)
	require.NoError(t, StoreInKeyring("phi-audit-test", "master-key", key))

	loaded, err := LoadFromKeyring("k1", "phi-audit-test", "master-key")
	require.NoError(t, err)
	assert.Equal(t, key.Encoded(), loaded.Encoded())
}
