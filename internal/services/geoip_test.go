package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
	"github.com/stretchr/testify/assert"
)

type mockGeoIPReader struct {
	cityFunc     func(ip net.IP) (*geoip2.City, error)
	metadataFunc func() maxminddb.Metadata
	closeFunc    func() error
}

func (m *mockGeoIPReader) City(ip net.IP) (*geoip2.City, error) { return m.cityFunc(ip) }

func (m *mockGeoIPReader) Metadata() maxminddb.Metadata {
	if m.metadataFunc == nil {
		return maxminddb.Metadata{DatabaseType: "GeoLite2-City"}
	}
	return m.metadataFunc()
}

func (m *mockGeoIPReader) Close() error {
	if m.closeFunc == nil {
		return nil
	}
	return m.closeFunc()
}

func cityRecord(country, iso, region, city string) *geoip2.City {
	rec := &geoip2.City{}
	if country != "" {
		rec.Country.Names = map[string]string{"en": country}
	}
	rec.Country.IsoCode = iso
	if region != "" {
		rec.Subdivisions = slices.Grow(rec.Subdivisions, 1)[:1]
		rec.Subdivisions[0].Names = map[string]string{"en": region}
	}
	if city != "" {
		rec.City.Names = map[string]string{"en": city}
	}
	return rec
}

func TestNewGeoIPService(t *testing.T) {
	cfg := config.Config{}
	logger := slog.Default()
	service := NewGeoIPService(cfg, logger)

	assert.NotNil(t, service)
	assert.Equal(t, cfg, service.cfg)
	assert.Equal(t, logger, service.logger)
}

func TestGeoIPService_Init(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		service := NewGeoIPService(config.Config{}, slog.Default())
		service.Init()
		assert.Nil(t, service.geoReader)
	})

	t.Run("Missing File", func(t *testing.T) {
		service := NewGeoIPService(config.Config{GeoIPDBPath: "/invalid/path/to/db.mmdb"}, slog.Default())
		service.Init()
		assert.Nil(t, service.geoReader)
	})

	t.Run("Corrupt File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		assert.NoError(t, os.WriteFile(path, []byte("not a maxmind database"), 0600))

		service := NewGeoIPService(config.Config{GeoIPDBPath: path}, slog.Default())
		service.Init()
		assert.Nil(t, service.geoReader)
	})

	t.Run("Opens Existing File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		assert.NoError(t, os.WriteFile(path, []byte("x"), 0600))

		service := NewGeoIPService(config.Config{GeoIPDBPath: path}, slog.Default())
		mock := &mockGeoIPReader{}
		service.open = func(string) (GeoIPReader, error) { return mock, nil }
		service.Init()
		assert.Same(t, mock, service.geoReader)
	})
}

func TestGeoIPService_GetLocation(t *testing.T) {
	service := NewGeoIPService(config.Config{}, slog.Default())

	t.Run("Localhost IPv4", func(t *testing.T) {
		c, r, city := service.GetLocation("127.0.0.1")
		assert.Equal(t, "Localhost", c)
		assert.Equal(t, "Local", r)
		assert.Equal(t, "Local", city)
	})

	t.Run("Localhost IPv6", func(t *testing.T) {
		c, _, _ := service.GetLocation("::1")
		assert.Equal(t, "Localhost", c)
	})

	t.Run("Nil Reader", func(t *testing.T) {
		c, r, city := service.GetLocation("8.8.8.8")
		assert.Equal(t, "Unknown", c)
		assert.Equal(t, "", r)
		assert.Equal(t, "", city)
	})

	t.Run("Invalid IP", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{}
		defer func() { service.geoReader = nil }()

		c, _, _ := service.GetLocation("not-an-ip")
		assert.Equal(t, "Invalid IP", c)
	})

	t.Run("Reader Success", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				return cityRecord("Germany", "DE", "Bavaria", "Munich"), nil
			},
		}
		defer func() { service.geoReader = nil }()

		c, r, city := service.GetLocation("8.8.8.8")
		assert.Equal(t, "Germany", c)
		assert.Equal(t, "Bavaria", r)
		assert.Equal(t, "Munich", city)
	})

	t.Run("Country IsoCode only", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				return cityRecord("", "FR", "", ""), nil
			},
		}
		defer func() { service.geoReader = nil }()

		c, _, _ := service.GetLocation("8.8.8.8")
		assert.Equal(t, "FR", c)
	})

	t.Run("No Country Info", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				return &geoip2.City{}, nil
			},
		}
		defer func() { service.geoReader = nil }()

		c, _, _ := service.GetLocation("8.8.8.8")
		assert.Equal(t, "Unknown", c)
	})

	t.Run("Reader Error", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				return nil, errors.New("db error")
			},
		}
		defer func() { service.geoReader = nil }()

		c, _, _ := service.GetLocation("8.8.8.8")
		assert.Equal(t, "Error", c)
	})
}

func TestGeoIPService_ReloadReader(t *testing.T) {
	t.Run("Keeps Previous Reader On Error", func(t *testing.T) {
		service := NewGeoIPService(config.Config{}, slog.Default())
		closed := false
		mock := &mockGeoIPReader{closeFunc: func() error {
			closed = true
			return nil
		}}
		service.geoReader = mock

		service.reloadReader("non-existent")
		assert.False(t, closed)
		assert.Same(t, mock, service.geoReader)
	})

	t.Run("Closes Previous Reader On Swap", func(t *testing.T) {
		service := NewGeoIPService(config.Config{}, slog.Default())
		closed := false
		service.geoReader = &mockGeoIPReader{closeFunc: func() error {
			closed = true
			return nil
		}}
		next := &mockGeoIPReader{}
		service.open = func(string) (GeoIPReader, error) { return next, nil }

		service.reloadReader("any")
		assert.True(t, closed)
		assert.Same(t, next, service.geoReader)
		assert.NoError(t, service.Close())
		assert.Nil(t, service.geoReader)
	})
}

func TestGeoIPService_StartUpdater(t *testing.T) {
	t.Run("Reloads When The File Changes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
		assert.NoError(t, os.WriteFile(path, []byte("v1"), 0600))

		service := NewGeoIPService(config.Config{GeoIPDBPath: path}, slog.Default())
		opened := make(chan struct{}, 10)
		service.open = func(string) (GeoIPReader, error) {
			opened <- struct{}{}
			return &mockGeoIPReader{}, nil
		}
		service.Init()
		<-opened

		future := time.Now().Add(time.Hour)
		assert.NoError(t, os.Chtimes(path, future, future))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go service.StartUpdaterWithInterval(ctx, 5*time.Millisecond)

		select {
		case <-opened:
		case <-time.After(time.Second):
			t.Fatal("database was not reloaded")
		}
	})

	t.Run("Disabled Without Path", func(t *testing.T) {
		service := NewGeoIPService(config.Config{}, slog.Default())
		service.StartUpdater(context.Background()) // returns immediately
	})

	t.Run("Disabled Without Interval", func(t *testing.T) {
		service := NewGeoIPService(config.Config{GeoIPDBPath: "x"}, slog.Default())
		service.StartUpdaterWithInterval(context.Background(), 0)
	})

	t.Run("Stops On Cancel", func(t *testing.T) {
		service := NewGeoIPService(config.Config{GeoIPDBPath: "missing"}, slog.Default())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			service.StartUpdaterWithInterval(ctx, time.Millisecond)
			close(done)
		}()
		time.Sleep(10 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("updater did not stop")
		}
	})
}
