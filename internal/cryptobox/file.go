package cryptobox

import (
	"fmt"
	"os"
)

// EncryptToFile encrypts value under password and writes the envelope to
// path with owner-only permissions, grounded on
// original_source/.../secrets/encrypted_dict.py's encrypt_dict_to_file.
func EncryptToFile(value any, password, path string) error {
	envelope, err := Encrypt(value, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, envelope, 0o600); err != nil {
		return fmt.Errorf("cryptobox: write %q: %w", path, err)
	}
	return nil
}

// DecryptFromFile reverses EncryptToFile.
func DecryptFromFile(path, password string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cryptobox: read %q: %w", path, err)
	}
	return Decrypt(data, password, out)
}
