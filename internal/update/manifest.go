package update

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// maxManifestSize bounds how much of a manifest response is read.
const maxManifestSize = 8 << 10

// Encodings a payload may be served with.
const (
	EncodingIdentity = ""
	EncodingZstd     = "zstd"
)

// Manifest describes the newest release of one domain.
type Manifest struct {
	Version  string `json:"version"`
	URL      string `json:"url"`
	SHA256   string `json:"sha256,omitempty"`
	BLAKE3   string `json:"blake3,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// parseManifest decodes data. The manifest may sit at the top level or
// under section (for example {"firmware": {...}}).
func parseManifest(data []byte, section string) (Manifest, error) {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if inner, ok := wrapped[section]; ok {
		data = inner
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	m.Version = strings.TrimSpace(m.Version)
	m.URL = strings.TrimSpace(m.URL)
	m.SHA256 = strings.ToLower(strings.TrimSpace(m.SHA256))
	m.BLAKE3 = strings.ToLower(strings.TrimSpace(m.BLAKE3))

	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	if m.URL == "" {
		return fmt.Errorf("manifest has no url")
	}
	for name, digest := range map[string]string{"sha256": m.SHA256, "blake3": m.BLAKE3} {
		if digest == "" {
			continue
		}
		if b, err := hex.DecodeString(digest); err != nil || len(b) != 32 {
			return fmt.Errorf("manifest %s digest is not 32 hex bytes", name)
		}
	}
	switch m.Encoding {
	case EncodingIdentity, EncodingZstd:
	default:
		return fmt.Errorf("manifest encoding %q not supported", m.Encoding)
	}
	return nil
}
