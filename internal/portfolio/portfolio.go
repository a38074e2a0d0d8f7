// Package portfolio stores password protected trading portfolios. Each
// portfolio owns an encrypted mnemonic and, through its id, one swap store.
package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ResistancePlatform/resistance-desktop-wallet-sub001/pkg/logging"
)

// Errors
var (
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrNotFound          = errors.New("portfolio not found")
	ErrInvalidMnemonic   = errors.New("invalid mnemonic")
	ErrEmptyName         = errors.New("portfolio name cannot be empty")
	ErrWeakPassword      = errors.New("password too weak")
)

const fileExt = ".json"

// Portfolio is the stored form of a portfolio.
type Portfolio struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	Seed      *EncryptedSeed `json:"seed"`
}

// Info is the public view of a portfolio.
type Info struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Info returns the public view of p.
func (p *Portfolio) Info() Info {
	return Info{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
}

// Unlocked is a portfolio whose mnemonic has been decrypted.
type Unlocked struct {
	Info
	Mnemonic string
}

// Store keeps portfolios as <id>.json files in a directory.
type Store struct {
	dir string
	kdf kdfParams
	log *logging.Logger
}

// NewStore opens the portfolio directory, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create portfolio directory: %w", err)
	}
	return &Store{
		dir: dir,
		kdf: defaultKDF,
		log: logging.GetDefault().Component("portfolio"),
	}, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+fileExt)
}

// Create encrypts mnemonic with password and saves a new portfolio.
func (s *Store) Create(name, mnemonic, password string) (*Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if !ValidateMnemonic(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	seed, err := encryptMnemonic(mnemonic, password, s.kdf)
	if err != nil {
		return nil, err
	}

	p := &Portfolio{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Seed:      seed,
	}
	if err := s.save(p); err != nil {
		return nil, err
	}

	s.log.Info("Portfolio created", "id", p.ID, "name", p.Name)
	info := p.Info()
	return &info, nil
}

func (s *Store) save(p *Portfolio) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}

	tmp := s.path(p.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write portfolio: %w", err)
	}
	if err := os.Rename(tmp, s.path(p.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write portfolio: %w", err)
	}
	return nil
}

// Get loads a portfolio.
func (s *Store) Get(id string) (*Portfolio, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read portfolio: %w", err)
	}

	var p Portfolio
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse portfolio %s: %w", id, err)
	}
	if p.Seed == nil {
		return nil, fmt.Errorf("portfolio %s has no seed", id)
	}
	return &p, nil
}

// List returns all portfolios sorted by name. Unreadable files are skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		p, err := s.Get(strings.TrimSuffix(e.Name(), fileExt))
		if err != nil {
			s.log.Warn("Skipping unreadable portfolio", "file", e.Name(), "error", err)
			continue
		}
		infos = append(infos, p.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// Unlock decrypts a portfolio's mnemonic. A wrong password yields
// ErrIncorrectPassword.
func (s *Store) Unlock(id, password string) (*Unlocked, error) {
	p, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	mnemonic, err := decryptMnemonic(p.Seed, password)
	if err != nil {
		if errors.Is(err, ErrIncorrectPassword) {
			s.log.Warn("Incorrect portfolio password", "id", id)
		}
		return nil, err
	}

	return &Unlocked{Info: p.Info(), Mnemonic: mnemonic}, nil
}

// Delete removes a portfolio file.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil {
		return fmt.Errorf("failed to delete portfolio: %w", err)
	}
	s.log.Info("Portfolio deleted", "id", id)
	return nil
}
