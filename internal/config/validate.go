package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	for _, name := range c.Names() {
		d := c.Downloads[name]
		if err := d.validate("downloads." + name); err != nil {
			return err
		}
	}
	return nil
}

func (d *DownloadConfig) validate(prefix string) error {
	switch d.EntryType {
	case "price":
		if d.Source != "alpaca" {
			return fmt.Errorf("%s.source must be alpaca for price entries, got %q", prefix, d.Source)
		}
	case "profile":
		if d.Source != "polygon" {
			return fmt.Errorf("%s.source must be polygon for profile entries, got %q", prefix, d.Source)
		}
	default:
		return fmt.Errorf("%s.entry_type must be price or profile, got %q", prefix, d.EntryType)
	}

	switch d.Calendar {
	case "intraday":
		if d.Exchange != DefaultExchange {
			return fmt.Errorf("%s.exchange: only %s sessions are supported, got %q", prefix, DefaultExchange, d.Exchange)
		}
		if d.RecordFrequency <= 0 {
			return fmt.Errorf("%s.record_frequency must be > 0", prefix)
		}
		if d.EvaluationHours < 0 {
			return fmt.Errorf("%s.evaluation_hours must be >= 0", prefix)
		}
		if !validClock(d.SessionStart) {
			return fmt.Errorf("%s.session_start must be HH:MM or HH:MM:SS, got %q", prefix, d.SessionStart)
		}
	case "quarterly":
	default:
		return fmt.Errorf("%s.calendar must be intraday or quarterly, got %q", prefix, d.Calendar)
	}

	switch d.Backend {
	case "parquet", "sqlite":
	default:
		return fmt.Errorf("%s.backend must be parquet or sqlite, got %q", prefix, d.Backend)
	}
	if d.Store == "" {
		return fmt.Errorf("%s.store is required", prefix)
	}
	if len(d.Symbols) == 0 && d.SymbolsCSV == "" {
		return fmt.Errorf("%s: one of symbols or symbols_csv is required", prefix)
	}
	if d.SymbolsLimit < 0 {
		return fmt.Errorf("%s.symbols_limit must be >= 0", prefix)
	}
	if d.YearsExamined <= 0 {
		return fmt.Errorf("%s.years_examined must be > 0", prefix)
	}
	if _, err := time.LoadLocation(d.Timezone); err != nil {
		return fmt.Errorf("%s.timezone: %w", prefix, err)
	}
	if d.Window() < 0 {
		return fmt.Errorf("%s.resolve_window must be >= 0", prefix)
	}
	for _, day := range d.IgnoredDates {
		if _, err := time.Parse(time.DateOnly, day); err != nil {
			return fmt.Errorf("%s.ignored_dates: %q is not YYYY-MM-DD", prefix, day)
		}
	}
	if d.Workers < 1 {
		return fmt.Errorf("%s.workers must be >= 1", prefix)
	}
	if d.MaxRetries < 1 {
		return fmt.Errorf("%s.max_retries must be >= 1", prefix)
	}
	if d.FetchChunkDays < 0 {
		return fmt.Errorf("%s.fetch_chunk_days must be >= 0", prefix)
	}
	return nil
}

func validClock(s string) bool {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
