package keyvault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"chainrelay/wallet"
)

// ErrNotFound is returned when no key material exists for a user.
var ErrNotFound = errors.New("keyvault: key not found")

// Store is the key-value backend holding encrypted custodial keys.
// Both an in-memory store (tests) and LevelDB (production) satisfy it.
type Store interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Close() error
}

// Vault persists the private keys generated for registered users. Keys are
// encrypted as v3 keystore JSON before they touch the backend.
type Vault struct {
	store      Store
	passphrase string
}

// New wraps a backend store with the vault passphrase.
func New(store Store, passphrase string) *Vault {
	return &Vault{store: store, passphrase: passphrase}
}

// Save encrypts and stores the key under the supplied user identifier.
func (v *Vault) Save(userID string, key *wallet.PrivateKey) error {
	if userID == "" {
		return errors.New("keyvault: empty user id")
	}
	blob, err := wallet.EncryptKey(key, v.passphrase)
	if err != nil {
		return fmt.Errorf("keyvault: encrypt key: %w", err)
	}
	return v.store.Put([]byte(userID), blob)
}

// Load decrypts the stored key for the user, or ErrNotFound.
func (v *Vault) Load(userID string) (*wallet.PrivateKey, error) {
	blob, err := v.store.Get([]byte(userID))
	if err != nil {
		return nil, err
	}
	key, err := wallet.DecryptKeyJSON(blob, v.passphrase)
	if err != nil {
		return nil, fmt.Errorf("keyvault: decrypt key: %w", err)
	}
	return key, nil
}

// Close releases the underlying store.
func (v *Vault) Close() error {
	return v.store.Close()
}

// --- In-memory backend (tests) ---

type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *MemStore) Close() error { return nil }

// --- LevelDB backend ---

// LevelStore is a persistent backend using LevelDB.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore creates or opens a LevelDB database at the specified path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Put(key []byte, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}
