package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	bucketName = "netcast_sessions_v1"
	keyPrefix  = "netcast_session_id_"
)

// Record is the persisted pairing of one TV.
type Record struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStore keeps Netcast session ids across restarts, keyed by device IP.
// With an empty path it only keeps them in memory.
type SessionStore struct {
	db *bolt.DB

	mu     sync.Mutex
	memory map[string]Record
}

func Open(path string) (*SessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return &SessionStore{memory: map[string]Record{}}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create session store dir: %w", err)
	}

	opts := *bolt.DefaultOptions
	opts.Timeout = 2 * time.Second

	db, err := bolt.Open(path, 0o600, &opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init session bucket: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Key is the storage key for a device's session id.
func Key(deviceIP string) string {
	return keyPrefix + strings.TrimSpace(deviceIP)
}

// Load returns the stored session id for deviceIP, or "" when none is stored.
func (s *SessionStore) Load(deviceIP string) (string, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.memory[Key(deviceIP)].SessionID, nil
	}

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket([]byte(bucketName)).Get([]byte(Key(deviceIP)))
		if val == nil {
			return nil
		}
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return "", fmt.Errorf("load session for %s: %w", deviceIP, err)
	}
	return rec.SessionID, nil
}

func (s *SessionStore) Save(deviceIP, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is empty")
	}
	rec := Record{SessionID: sessionID, UpdatedAt: time.Now().UTC()}

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.memory[Key(deviceIP)] = rec
		return nil
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(Key(deviceIP)), val)
	})
}

func (s *SessionStore) Delete(deviceIP string) error {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.memory, Key(deviceIP))
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(Key(deviceIP)))
	})
}

// Devices lists the IPs with a stored session.
func (s *SessionStore) Devices() ([]string, error) {
	var ips []string
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		for key := range s.memory {
			ips = append(ips, strings.TrimPrefix(key, keyPrefix))
		}
		return ips, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, _ []byte) error {
			ips = append(ips, strings.TrimPrefix(string(k), keyPrefix))
			return nil
		})
	})
	return ips, err
}

func (s *SessionStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
