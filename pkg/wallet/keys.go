package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/rahuls2764/Skill/pkg/config"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoadKeys collects signing keys from the configured sources: a
// comma-separated list of hex keys in an env var, and an encrypted
// keystore file. No keys is not an error; the wallet then reports
// ProviderUnavailable on connect.
func LoadKeys(cfg config.WalletConfig) ([]*ecdsa.PrivateKey, error) {
	var keys []*ecdsa.PrivateKey

	if cfg.PrivateKeyEnv != "" {
		if raw := strings.TrimSpace(os.Getenv(cfg.PrivateKeyEnv)); raw != "" {
			for i, part := range strings.Split(raw, ",") {
				key, err := ParseHexKey(part)
				if err != nil {
					return nil, fmt.Errorf("%s entry %d: %w", cfg.PrivateKeyEnv, i, err)
				}
				keys = append(keys, key)
			}
		}
	}

	if cfg.Keystore != "" {
		key, err := loadKeystore(cfg.Keystore, os.Getenv(cfg.PassphraseEnv))
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ParseHexKey parses a hex private key with or without the 0x prefix.
func ParseHexKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

func loadKeystore(path, passphrase string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore %s: %w", path, err)
	}
	return key.PrivateKey, nil
}
