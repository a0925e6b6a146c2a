package database

import (
	"runtime"
	"time"
)

const (
	defaultMaxOpenConns    = 8
	defaultConnMaxLifetime = time.Hour
	defaultCacheSizeKB     = -64000 // negative means KiB, so 64MB
	defaultBusyTimeoutMS   = 5000

	// connections kept beyond the run pool for the ops server and purge loop
	reservedConns = 2
)

// Config holds database configuration settings. Zero pool sizes fall back
// to defaults in NewDB.
type Config struct {
	DBPath   string
	ReadOnly bool

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int
	BusyTimeoutMS   int
}

// NewConfig creates a read-write configuration for the database at dbPath.
func NewConfig(dbPath string) *Config {
	return &Config{
		DBPath:          dbPath,
		ConnMaxLifetime: defaultConnMaxLifetime,
		CacheSizeKB:     defaultCacheSizeKB,
		BusyTimeoutMS:   defaultBusyTimeoutMS,
	}
}

// SizeFor sizes the connection pool so that every concurrent source run can
// hold a connection. workers <= 0 means one per CPU, matching the scheduler.
func (c *Config) SizeFor(workers int) *Config {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	c.MaxOpenConns = workers + reservedConns
	c.MaxIdleConns = c.MaxOpenConns
	return c
}
