package certsecrets

import (
	"bytes"
	"crypto/aes"
	"encoding/base64"
	"os"
	"strings"

	"github.com/hopsworks/expat/internal/config"
	"github.com/hopsworks/expat/internal/fault"
)

// legacyMaster is the sha256 of the installer's default master password.
// Passwords encrypted under it use a key taken from the user key alone.
const legacyMaster = "5fcf82bc15aef42cd3ec93e6d4b51c04df110cf77ee715f62f3f172ff8ed9de9"

const keyPart = 16

// ReadMasterPassword reads the master encryption password from the file named
// by x509.master_password_file.
func ReadMasterPassword(cfg *config.Config) (string, error) {
	if err := cfg.RequireAll(config.KeyMasterPasswordFile); err != nil {
		return "", err
	}
	path := cfg.String(config.KeyMasterPasswordFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fault.Configuration.New("failed to read master password: %v", err)
	}
	master := strings.TrimRight(string(raw), "\r\n")
	if master == "" {
		return "", fault.Configuration.New("master password file %s is empty", path)
	}
	return master, nil
}

func cipherKey(userKey, master string) ([]byte, error) {
	if len(userKey) < keyPart {
		return nil, fault.DataShape.New("user key is shorter than %d characters", keyPart)
	}
	if master == legacyMaster {
		return []byte(userKey[:keyPart]), nil
	}
	if len(master) < keyPart {
		return nil, fault.Configuration.New("master password is shorter than %d characters", keyPart)
	}
	return []byte(userKey[:keyPart] + master[:keyPart]), nil
}

// DecryptPassword recovers a certificate password stored as base64 AES/ECB
// ciphertext keyed by the owner's user key and the master password.
func DecryptPassword(userKey, ciphertext, master string) (string, error) {
	key, err := cipherKey(userKey, master)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fault.DataShape.New("certificate password is not base64: %v", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fault.Configuration.Wrap(err)
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return "", fault.DataShape.New("certificate password has %d bytes, not a multiple of %d", len(data), bs)
	}
	plain := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(plain[i:i+bs], data[i:i+bs])
	}
	pad := int(plain[len(plain)-1])
	if pad == 0 || pad > bs || !bytes.Equal(plain[len(plain)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return "", fault.DataShape.New("certificate password does not decrypt with the owner's key")
	}
	return string(plain[:len(plain)-pad]), nil
}
