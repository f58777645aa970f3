// Package config loads the HMA wire tunables from an optional TOML file,
// grounded on talent-plan-tinykv's scheduler config
// (scheduler/server/config/config.go's configFromFile, built on
// github.com/BurntSushi/toml's DecodeFile). The zero value of Config
// reproduces the fixed defaults exactly; the struct exists so an
// embedder can override them (e.g. shrink PageLockSlots for a test) in
// one place, never so wire-format constants drift between processes that
// must agree on the same HMA file layout.
package config

import (
	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"

	"github.com/multipager/hma/common"
	"github.com/multipager/hma/pagelock"
)

// Config is the TOML-decodable superset of pagelock.Config: the wire
// tunables plus the diagnostic log level, which has no bearing on the
// HMA file layout and so isn't part of pagelock.Config itself.
type Config struct {
	ClientSlots   int    `toml:"client-slots"`
	PageLockSlots int    `toml:"page-lock-slots"`
	Suffix        string `toml:"hma-suffix"`
	LogLevel      string `toml:"log-level"`
}

// Default returns the fixed defaults (C=16, P=262144, suffix
// "-hma") with logging at "info".
func Default() Config {
	return Config{
		ClientSlots:   common.DefaultClientSlots,
		PageLockSlots: common.DefaultPageLockSlots,
		Suffix:        common.DefaultSuffix,
		LogLevel:      "info",
	}
}

// Load decodes path as TOML over Default(), so an omitted field keeps
// its default rather than zeroing out.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, pkgerrors.WithMessage(err, "decode config file "+path)
	}
	if cfg.ClientSlots > common.MaxClientSlots {
		return Config{}, pkgerrors.Errorf("client-slots %d exceeds encoding limit %d", cfg.ClientSlots, common.MaxClientSlots)
	}
	return cfg, nil
}

// Pagelock projects the wire-format tunables onto pagelock.Config,
// discarding LogLevel (which pagelock never needs).
func (c Config) Pagelock() pagelock.Config {
	return pagelock.Config{
		ClientSlots:   c.ClientSlots,
		PageLockSlots: c.PageLockSlots,
		Suffix:        c.Suffix,
	}
}
