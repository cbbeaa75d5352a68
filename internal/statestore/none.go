package statestore

import "context"

// NoneBackend is used when the provisioning tool's native backend already
// encrypts state, or encryption is intentionally off: reads return not
// found, writes are no-ops (spec §4.7).
type NoneBackend struct{}

var _ Backend = NoneBackend{}

func (NoneBackend) TransitKeyName() string { return "" }

func (NoneBackend) ReadCiphertext(ctx context.Context) (string, bool, error) {
	return "", false, nil
}

func (NoneBackend) WriteCiphertext(ctx context.Context, ciphertext string) error {
	return nil
}
