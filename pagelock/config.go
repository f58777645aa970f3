package pagelock

import "github.com/multipager/hma/common"

// Config carries the HMA wire tunables (default C=16,
// P=262144, suffix "-hma"). Connect replaces every zero field (and so the
// whole zero value) with its default; use DefaultConfig and override
// fields as needed — all participating processes must agree
// on the same values for a given database, since they are baked into the
// HMA file's size and addressing.
type Config struct {
	ClientSlots   int
	PageLockSlots int
	Suffix        string
}

func DefaultConfig() Config {
	return Config{
		ClientSlots:   common.DefaultClientSlots,
		PageLockSlots: common.DefaultPageLockSlots,
		Suffix:        common.DefaultSuffix,
	}
}

func (c Config) normalized() Config {
	if c.ClientSlots == 0 {
		c.ClientSlots = common.DefaultClientSlots
	}
	if c.PageLockSlots == 0 {
		c.PageLockSlots = common.DefaultPageLockSlots
	}
	if c.Suffix == "" {
		c.Suffix = common.DefaultSuffix
	}
	return c
}
