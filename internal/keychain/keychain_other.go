//go:build !darwin

package keychain

// The macOS Keychain is not available outside of macOS; the keyring and
// secret-service backends cover other platforms.
func newSystemStore() (Backend, error) {
	return nil, ErrUnsupportedPlatform
}
