package settings

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name proxy passwords are stored under.
const KeyringService = "ffupdaterd"

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
)

// ProxyPassword returns the password of the proxy user from the OS keyring.
// No proxy user or no stored secret yields an empty password.
func (s *Settings) ProxyPassword() (string, error) {
	if s.Network.ProxyUser == "" {
		return "", nil
	}
	pass, err := keyringGet(KeyringService, s.Network.ProxyUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return pass, err
}

// StoreProxyPassword saves the password of user in the OS keyring.
func StoreProxyPassword(user, password string) error {
	return keyringSet(KeyringService, user, password)
}
