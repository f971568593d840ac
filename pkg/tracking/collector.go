package tracking

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
)

const expireCookie = "=; expires=Thu, 01 Jan 1970 00:00:00 GMT; path=/"

// ParseCookies parses a document.cookie string. Segments without a name or a
// value are skipped; values that fail to URL-decode are kept raw.
func ParseCookies(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, segment := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		// percent-decoding only; '+' stays literal as in decodeURIComponent
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		cookies[name] = value
	}
	return cookies
}

// Collector snapshots the ambient stores of one environment. Failures are
// logged with the store name and degrade to an empty mapping.
type Collector struct {
	env    Environment
	logger *slog.Logger
}

func NewCollector(env Environment, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{env: env, logger: logger}
}

func (c *Collector) Cookies() map[string]string {
	if c.env == nil || c.env.Cookies() == nil {
		return map[string]string{}
	}
	jar := c.env.Cookies()
	raw := Attempt(jar.CookieString).Logged(c.logger, "cookie snapshot", "", "store", "cookies")
	return ParseCookies(raw)
}

func (c *Collector) Local() map[string]string {
	if c.env == nil {
		return map[string]string{}
	}
	return c.dump("localStorage", c.env.LocalStorage())
}

func (c *Collector) Session() map[string]string {
	if c.env == nil {
		return map[string]string{}
	}
	return c.dump("sessionStorage", c.env.SessionStorage())
}

func (c *Collector) dump(name string, store Storage) map[string]string {
	if store == nil {
		return map[string]string{}
	}
	return Attempt(func() (map[string]string, error) {
		n, err := store.Len()
		if err != nil {
			return nil, err
		}
		items := make(map[string]string, n)
		for i := 0; i < n; i++ {
			key, err := store.Key(i)
			if err != nil {
				return nil, err
			}
			value, ok, err := store.GetItem(key)
			if err != nil {
				return nil, err
			}
			if ok {
				items[key] = value
			}
		}
		return items, nil
	}).Logged(c.logger, "storage snapshot", map[string]string{}, "store", name)
}

func (c *Collector) All() StorageData {
	return StorageData{
		Cookies:        c.Cookies(),
		LocalStorage:   c.Local(),
		SessionStorage: c.Session(),
	}
}

// ExportJSON renders All as indented JSON.
func (c *Collector) ExportJSON() string {
	b, err := json.MarshalIndent(c.All(), "", "  ")
	if err != nil {
		c.logger.Error("tracking: storage export failed", "error", err)
		return "{}"
	}
	return string(b)
}

// ClearAll expires every cookie on the root path and empties local storage.
func (c *Collector) ClearAll() {
	if c.env == nil {
		return
	}
	if jar := c.env.Cookies(); jar != nil {
		raw := Attempt(jar.CookieString).Logged(c.logger, "cookie snapshot", "", "store", "cookies")
		for _, segment := range strings.Split(raw, ";") {
			name, _, _ := strings.Cut(segment, "=")
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			AttemptDo(func() error {
				return jar.SetCookie(name + expireCookie)
			}).Logged(c.logger, "cookie clear", struct{}{}, "cookie", name)
		}
	}
	if store := c.env.LocalStorage(); store != nil {
		AttemptDo(store.Clear).Logged(c.logger, "storage clear", struct{}{}, "store", "localStorage")
	}
}
