// Package settings persists small client-side preferences as a JSON file
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrEmptyAddress is returned when saving a blank printer address
var ErrEmptyAddress = errors.New("network printer address is empty")

// KeyNetworkPrinterIP holds the last network printer address the user saved
const KeyNetworkPrinterIP = "network_printer_ip"

// Store is a string key/value file. An empty path keeps values in memory only.
type Store struct {
	filePath string
	data     map[string]string
	mu       sync.RWMutex
}

// Open loads the store at filePath. A missing file is created on first save.
func Open(filePath string) (*Store, error) {
	s := &Store{
		filePath: filePath,
		data:     make(map[string]string),
	}

	if filePath == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	return s, nil
}

// Get returns the value stored under key
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key and saves the file
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[key]
	s.data[key] = value
	if err := s.save(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Delete removes key and saves the file
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.save()
}

// Keys returns the stored keys in order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NetworkPrinterIP returns the saved network printer address, or ""
func (s *Store) NetworkPrinterIP() string {
	v, _ := s.Get(KeyNetworkPrinterIP)
	return v
}

// SetNetworkPrinterIP saves the network printer address, trimmed
func (s *Store) SetNetworkPrinterIP(ip string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ErrEmptyAddress
	}
	return s.Set(KeyNetworkPrinterIP, ip)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	// A file holding null decodes to a nil map
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return nil
}

func (s *Store) save() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.filePath, data, 0644)
}
