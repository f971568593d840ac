// Package tracking implements the client side of Brighten visitor tracking:
// device detection, a consent gated storage collector and the Tracker that
// keeps a visitor's identity and page history in sync with the ingest API.
//
// The hosting page is modelled by Environment. A nil Environment stands for a
// non-browser context and turns every entry point into a no-op.
package tracking

import "sync"

// Screen is the device screen size in CSS pixels.
type Screen struct {
	Width  int
	Height int
}

// Storage mirrors the Web Storage API (localStorage / sessionStorage).
// Implementations report failures such as a disabled store or an exceeded
// quota as errors instead of panicking.
type Storage interface {
	Len() (int, error)
	Key(index int) (string, error)
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Clear() error
}

// CookieJar mirrors document.cookie: reads return the serialized
// "a=1; b=2" string, writes take a single Set-Cookie style assignment.
type CookieJar interface {
	CookieString() (string, error)
	SetCookie(assignment string) error
}

// Environment is everything the tracker consumes from its host.
type Environment interface {
	UserAgent() string
	Screen() Screen
	Referrer() string
	Title() string
	Pathname() string
	LocalStorage() Storage
	SessionStorage() Storage
	Cookies() CookieJar
}

// StaticEnvironment is an Environment with fixed navigator data and mutable
// location/title, suitable for webview shells, simulators and tests.
type StaticEnvironment struct {
	Agent       string
	ScreenSize  Screen
	Referer     string
	Local       Storage
	Session     Storage
	CookieStore CookieJar

	mu    sync.RWMutex
	title string
	path  string
}

// NewStaticEnvironment returns an environment positioned at path with fresh
// in-memory stores.
func NewStaticEnvironment(userAgent string, screen Screen, path, title string) *StaticEnvironment {
	return &StaticEnvironment{
		Agent:       userAgent,
		ScreenSize:  screen,
		Local:       NewMemoryStorage(),
		Session:     NewMemoryStorage(),
		CookieStore: NewMemoryCookieJar(),
		path:        path,
		title:       title,
	}
}

// Navigate moves the environment to a new location, like a history push.
func (e *StaticEnvironment) Navigate(path, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = path
	e.title = title
}

func (e *StaticEnvironment) UserAgent() string { return e.Agent }
func (e *StaticEnvironment) Screen() Screen    { return e.ScreenSize }
func (e *StaticEnvironment) Referrer() string  { return e.Referer }

func (e *StaticEnvironment) Title() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.title
}

func (e *StaticEnvironment) Pathname() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path
}

func (e *StaticEnvironment) LocalStorage() Storage   { return e.Local }
func (e *StaticEnvironment) SessionStorage() Storage { return e.Session }
func (e *StaticEnvironment) Cookies() CookieJar      { return e.CookieStore }
