package certsecrets

import (
	"testing"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ownerKey is the password hash of a user whose password is "adminpw".
const (
	testOwnerKey = "5fcf82bc15aef42cd3ec93e6d4b51c04df110cf77ee715f62f3f172ff8ed9de9"
	testMaster   = "0123456789abcdefmasterpassword"
	// "certpw-1234" under testOwnerKey and testMaster.
	testCipher = "qJuE8SxicfrMXhQoDti6oQ=="
)

func TestDecryptPassword(t *testing.T) {
	tests := []struct {
		name   string
		cipher string
		master string
		want   string
	}{
		{name: "user and master key", cipher: testCipher, master: testMaster, want: "certpw-1234"},
		{name: "legacy master", cipher: "birH4Dfj+4PBsL0fDRwhIw==", master: legacyMaster, want: "certpw-1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecryptPassword(testOwnerKey, tt.cipher, tt.master)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecryptPasswordRejectsBadInput(t *testing.T) {
	_, err := DecryptPassword(testOwnerKey, testCipher, "ffffffffffffffffmasterpassword")
	assert.True(t, fault.DataShape.Has(err))

	_, err = DecryptPassword(testOwnerKey, "not base64!", testMaster)
	assert.True(t, fault.DataShape.Has(err))

	_, err = DecryptPassword("short", testCipher, testMaster)
	assert.True(t, fault.DataShape.Has(err))

	_, err = DecryptPassword(testOwnerKey, testCipher, "tiny")
	assert.True(t, fault.Configuration.Has(err))
}

func TestReadMasterPassword(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "encryption_master_password", testMaster+"\n")

	got, err := ReadMasterPassword(config.FromMap(map[string]any{config.KeyMasterPasswordFile: path}))
	require.NoError(t, err)
	assert.Equal(t, testMaster, got)

	_, err = ReadMasterPassword(config.FromMap(nil))
	assert.Equal(t, "ConfigurationError", fault.KindOf(err))

	_, err = ReadMasterPassword(config.FromMap(map[string]any{config.KeyMasterPasswordFile: path + ".missing"}))
	assert.Equal(t, "ConfigurationError", fault.KindOf(err))
}
