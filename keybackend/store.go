package keybackend

import "maps"

// KeysConfig holds configuration for loading access keys.
type KeysConfig struct {
	Inline []KeyPair `mapstructure:"inline"` // Inline key pairs from config
	File   string    `mapstructure:"file"`   // JSON or YAML file of key pairs
}

// NewSecretStore merges the inline keys and the keys file into one store.
// File keys win over inline keys with the same access key.
func NewSecretStore(cfg KeysConfig) (*MapSecretStore, error) {
	keys := collect(cfg.Inline)

	if cfg.File != "" {
		fileKeys, err := LoadKeysFromFile(cfg.File)
		if err != nil {
			return nil, err
		}
		maps.Copy(keys, fileKeys)
	}

	return &MapSecretStore{keys: keys}, nil
}
