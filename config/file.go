package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/oddstream/errs"
)

// Load reads a YAML configuration document from disk, layered over Default.
// An empty path falls back to ODDSTREAM_CONFIG, then to config/oddstream.yaml.
func Load(path string) (Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("ODDSTREAM_CONFIG"))
	}
	if path == "" {
		path = "config/oddstream.yaml"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Venue.RESTBaseURL) == "" {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("venue REST base URL is required"))
	}
	if strings.TrimSpace(s.Venue.StreamURL) == "" {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("venue stream URL is required"))
	}
	if s.Venue.MarketPageSize <= 0 {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("market page size must be positive"))
	}
	if s.Venue.RESTBurst <= 0 || s.Venue.RESTInterval <= 0 {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("REST rate limit must be positive"))
	}
	if s.Venue.SubscribeBurst <= 0 || s.Venue.SubscribeInterval <= 0 {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("subscribe rate limit must be positive"))
	}
	if s.Batch.Debounce <= 0 || s.Batch.MaxSize <= 0 {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("batch debounce and max size must be positive"))
	}
	if s.Sequencer.IdleTimeout <= 0 {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("sequencer idle timeout must be positive"))
	}
	if s.Bookmaker.ID <= 0 || strings.TrimSpace(s.Bookmaker.Name) == "" {
		return errs.New("monaco", errs.CodeInvalid, errs.WithMessage("bookmaker identity is required"))
	}
	return nil
}
