package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/config"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// GeoIPReader is the subset of *geoip2.Reader used for lookups.
type GeoIPReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Metadata() maxminddb.Metadata
	Close() error
}

// GeoIPService resolves client IPs against a local GeoLite2 City database.
// The file is refreshed out of band (geoipupdate cron); StartUpdater reopens
// it whenever its modification time changes.
type GeoIPService struct {
	cfg       config.Config
	logger    *slog.Logger
	geoReader GeoIPReader
	geoLock   sync.RWMutex
	loadedMod time.Time
	open      func(path string) (GeoIPReader, error)
}

func NewGeoIPService(cfg config.Config, logger *slog.Logger) *GeoIPService {
	return &GeoIPService{
		cfg:    cfg,
		logger: logger,
		open: func(path string) (GeoIPReader, error) {
			return geoip2.Open(path)
		},
	}
}

func (s *GeoIPService) Init() {
	if s.cfg.GeoIPDBPath == "" {
		s.logger.Warn("GeoIP: database path not set. Lookups will be disabled.")
		return
	}
	if _, err := os.Stat(s.cfg.GeoIPDBPath); errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("GeoIP: database missing. Lookups will be disabled until it appears.", "path", s.cfg.GeoIPDBPath)
		return
	}
	s.reloadReader(s.cfg.GeoIPDBPath)
}

func (s *GeoIPService) StartUpdater(ctx context.Context) {
	s.StartUpdaterWithInterval(ctx, s.cfg.GeoIPReloadInterval)
}

func (s *GeoIPService) StartUpdaterWithInterval(ctx context.Context, interval time.Duration) {
	if s.cfg.GeoIPDBPath == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.changed(s.cfg.GeoIPDBPath) {
				s.logger.Info("GeoIP: database changed, reloading")
				s.reloadReader(s.cfg.GeoIPDBPath)
			}
		case <-ctx.Done():
			s.logger.Info("GeoIP: Updater stopping")
			return
		}
	}
}

func (s *GeoIPService) changed(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	s.geoLock.RLock()
	defer s.geoLock.RUnlock()
	return !info.ModTime().Equal(s.loadedMod)
}

// reloadReader swaps in a reader for path. The previous reader stays active
// when the new file cannot be opened.
func (s *GeoIPService) reloadReader(path string) {
	reader, err := s.open(path)
	if err != nil {
		s.logger.Error("GeoIP: Failed to open database", "path", path, "error", err)
		return
	}

	var mod time.Time
	if info, err := os.Stat(path); err == nil {
		mod = info.ModTime()
	}

	s.geoLock.Lock()
	old := s.geoReader
	s.geoReader = reader
	s.loadedMod = mod
	s.geoLock.Unlock()

	if old != nil {
		old.Close()
	}

	meta := reader.Metadata()
	s.logger.Info("GeoIP: Loaded database", "type", meta.DatabaseType, "epoch", meta.BuildEpoch)
}

func (s *GeoIPService) Close() error {
	s.geoLock.Lock()
	defer s.geoLock.Unlock()
	if s.geoReader == nil {
		return nil
	}
	err := s.geoReader.Close()
	s.geoReader = nil
	return err
}

func (s *GeoIPService) GetLocation(ipStr string) (country, region, city string) {
	if ipStr == "127.0.0.1" || ipStr == "::1" {
		return "Localhost", "Local", "Local"
	}

	s.geoLock.RLock()
	reader := s.geoReader
	s.geoLock.RUnlock()

	if reader == nil {
		return "Unknown", "", ""
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "Invalid IP", "", ""
	}

	record, err := reader.City(ip)
	if err != nil {
		s.logger.Error("GeoIP: Lookup error", "error", err)
		return "Error", "", ""
	}

	if name, ok := record.Country.Names["en"]; ok {
		country = name
	} else {
		country = record.Country.IsoCode
	}

	if country == "" {
		country = "Unknown"
	}

	if len(record.Subdivisions) > 0 {
		if name, ok := record.Subdivisions[0].Names["en"]; ok {
			region = name
		}
	}

	if name, ok := record.City.Names["en"]; ok {
		city = name
	}

	return country, region, city
}
