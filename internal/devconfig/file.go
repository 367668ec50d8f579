package devconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/sweeney/bonsai-node/internal/fsutil"
)

// DefaultPath is where the daemon keeps the configuration document.
const DefaultPath = "/var/lib/bonsai-node/config.json"

var (
	// ErrNotFound is returned by Load when no configuration file exists.
	ErrNotFound = errors.New("configuration file not found")

	// ErrParse is wrapped when a document is not valid JSON for Config.
	ErrParse = errors.New("configuration parse failed")

	// ErrPersist is wrapped when the document cannot be written.
	ErrPersist = errors.New("configuration write failed")
)

// Load reads the configuration at path. Keys absent from the file keep
// their default values. Comments and trailing commas are tolerated.
//
// On any error the returned Config is Default(), so callers can log and
// carry on.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), ErrNotFound
	}
	if err != nil {
		return Default(), fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := overlay(Default(), data)
	if err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Default(), fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path atomically. A crash mid-write leaves either the
// old document or the new one, never a mix.
func Save(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

// Marshal renders cfg in the on-disk format.
func Marshal(cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return append(data, '\n'), nil
}

// overlay decodes data over base. Keys present in data replace base values;
// keys absent keep them.
func overlay(base Config, data []byte) (Config, error) {
	stripped := jsonc.ToJSON(data)
	if err := json.Unmarshal(stripped, &base); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return base, nil
}
