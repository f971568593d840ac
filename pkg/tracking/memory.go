package tracking

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrStorageUnavailable is returned by stores that have been disabled.
var ErrStorageUnavailable = errors.New("storage unavailable")

// MemoryStorage is an insertion-ordered in-memory Storage.
type MemoryStorage struct {
	mu       sync.RWMutex
	keys     []string
	values   map[string]string
	disabled bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

// Disable makes every subsequent call fail, like a browser with storage
// blocked by policy.
func (m *MemoryStorage) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = true
}

func (m *MemoryStorage) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return 0, ErrStorageUnavailable
	}
	return len(m.keys), nil
}

func (m *MemoryStorage) Key(index int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return "", ErrStorageUnavailable
	}
	if index < 0 || index >= len(m.keys) {
		return "", fmt.Errorf("key index %d out of range", index)
	}
	return m.keys[index], nil
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return "", false, ErrStorageUnavailable
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrStorageUnavailable
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrStorageUnavailable
	}
	if _, ok := m.values[key]; !ok {
		return nil
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrStorageUnavailable
	}
	m.keys = nil
	m.values = make(map[string]string)
	return nil
}

// MemoryCookieJar keeps cookies for a single origin. Assignments carrying an
// expiry in the past or a non-positive max-age delete the cookie.
type MemoryCookieJar struct {
	mu      sync.Mutex
	names   []string
	cookies map[string]string
	now     func() time.Time
}

func NewMemoryCookieJar() *MemoryCookieJar {
	return &MemoryCookieJar{cookies: make(map[string]string), now: time.Now}
}

func (j *MemoryCookieJar) CookieString() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	parts := make([]string, 0, len(j.names))
	for _, name := range j.names {
		parts = append(parts, name+"="+j.cookies[name])
	}
	return strings.Join(parts, "; "), nil
}

func (j *MemoryCookieJar) SetCookie(assignment string) error {
	segments := strings.Split(assignment, ";")
	name, value, ok := strings.Cut(segments[0], "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid cookie assignment %q", assignment)
	}
	value = strings.TrimSpace(value)

	expired := false
	for _, attr := range segments[1:] {
		k, v, _ := strings.Cut(strings.TrimSpace(attr), "=")
		switch strings.ToLower(k) {
		case "expires":
			if t, err := http.ParseTime(v); err == nil && !t.After(j.now()) {
				expired = true
			}
		case "max-age":
			if n, err := strconv.Atoi(v); err == nil && n <= 0 {
				expired = true
			}
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, exists := j.cookies[name]
	if expired {
		if exists {
			delete(j.cookies, name)
			for i, n := range j.names {
				if n == name {
					j.names = append(j.names[:i], j.names[i+1:]...)
					break
				}
			}
		}
		return nil
	}
	if !exists {
		j.names = append(j.names, name)
	}
	j.cookies[name] = value
	return nil
}

// RawCookieJar serves a fixed document.cookie string and ignores writes.
// It models hosts that only forward the request Cookie header.
type RawCookieJar string

func (r RawCookieJar) CookieString() (string, error) { return string(r), nil }
func (r RawCookieJar) SetCookie(string) error        { return nil }
