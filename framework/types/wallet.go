package types

// Wallet is a named key with its bech32 address.
type Wallet struct {
	KeyName      string
	Address      string
	Bech32Prefix string
	// Mnemonic is set when the backend exposes the key material, e.g. for
	// keys later imported into a relayer.
	Mnemonic string
}

// NewWallet returns a wallet for keyName at address.
func NewWallet(keyName, address, bech32Prefix string) *Wallet {
	return &Wallet{KeyName: keyName, Address: address, Bech32Prefix: bech32Prefix}
}

// GetFormattedAddress returns the bech32 address.
func (w *Wallet) GetFormattedAddress() string {
	return w.Address
}

// GetKeyName returns the keyring name.
func (w *Wallet) GetKeyName() string {
	return w.KeyName
}
