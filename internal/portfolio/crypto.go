package portfolio

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"unicode"

	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the seed encryption key.
type kdfParams struct {
	Time        uint32
	Memory      uint32
	Parallelism uint8
}

var defaultKDF = kdfParams{
	Time:        3,
	Memory:      64 * 1024,
	Parallelism: 4,
}

const (
	keyLen  = 32
	saltLen = 32
)

// EncryptedSeed is an Argon2id + AES-256-GCM encrypted mnemonic.
type EncryptedSeed struct {
	Version     int    `json:"version"`
	Ciphertext  []byte `json:"ciphertext"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Time        uint32 `json:"time"`
	Memory      uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
}

func newGCM(password string, salt []byte, p kdfParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, keyLen)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func encryptMnemonic(mnemonic, password string, p kdfParams) (*EncryptedSeed, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt, p)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &EncryptedSeed{
		Version:     1,
		Ciphertext:  gcm.Seal(nil, nonce, []byte(mnemonic), nil),
		Salt:        salt,
		Nonce:       nonce,
		Time:        p.Time,
		Memory:      p.Memory,
		Parallelism: p.Parallelism,
	}, nil
}

// decryptMnemonic returns ErrIncorrectPassword when authentication fails.
func decryptMnemonic(seed *EncryptedSeed, password string) (string, error) {
	p := kdfParams{Time: seed.Time, Memory: seed.Memory, Parallelism: seed.Parallelism}
	if p.Time == 0 {
		p.Time = defaultKDF.Time
	}
	if p.Memory == 0 {
		p.Memory = defaultKDF.Memory
	}
	if p.Parallelism == 0 {
		p.Parallelism = defaultKDF.Parallelism
	}

	gcm, err := newGCM(password, seed.Salt, p)
	if err != nil {
		return "", err
	}
	if len(seed.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("corrupt seed: nonce length %d", len(seed.Nonce))
	}

	plaintext, err := gcm.Open(nil, seed.Nonce, seed.Ciphertext, nil)
	if err != nil {
		return "", ErrIncorrectPassword
	}
	defer clear(plaintext)

	return string(plaintext), nil
}

// NewMnemonic generates a 24 word BIP39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// ValidateMnemonic reports whether mnemonic is a valid BIP39 phrase.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// Password limits
const (
	MinPasswordLength = 8
	MaxPasswordLength = 256
)

// ValidatePassword requires 8 to 256 characters and 3 of 4 character classes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrWeakPassword, MaxPasswordLength)
	}

	var classes [4]bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			classes[0] = true
		case unicode.IsLower(r):
			classes[1] = true
		case unicode.IsNumber(r):
			classes[2] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			classes[3] = true
		}
	}

	n := 0
	for _, ok := range classes {
		if ok {
			n++
		}
	}
	if n < 3 {
		return fmt.Errorf("%w: needs 3 of uppercase, lowercase, number, special character", ErrWeakPassword)
	}
	return nil
}
