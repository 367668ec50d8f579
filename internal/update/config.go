package update

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/sweeney/bonsai-node/internal/devconfig"
)

// MaxConfigSize bounds a configuration payload.
const MaxConfigSize = 16 << 10

// configManifestPath is appended to update_server.
const configManifestPath = "/config/manifest"

// Mode selects what a configuration release requires to take effect.
type Mode int

const (
	// ModeReconnect applies in place; critical changes reconnect the
	// command channel.
	ModeReconnect Mode = iota
	// ModeReboot requests a restart after every applied release.
	ModeReboot
)

// ConfigStrategy updates the device configuration.
type ConfigStrategy struct {
	source
	mode Mode
}

// NewConfigStrategy returns the configuration domain strategy.
func NewConfigStrategy(deps Deps, mode Mode) *ConfigStrategy {
	return &ConfigStrategy{
		source: source{domain: DomainConfig, section: "config", deps: deps.withDefaults()},
		mode:   mode,
	}
}

func (c *ConfigStrategy) sealed() {}

// Current returns the active config_version.
func (c *ConfigStrategy) Current() string { return c.deps.Config.Get().ConfigVersion }

// Check looks for a newer configuration release on update_server.
func (c *ConfigStrategy) Check(ctx context.Context) (bool, error) {
	cfg := c.deps.Config.Get()
	url := ""
	if server := strings.TrimRight(cfg.UpdateServer, "/"); server != "" {
		url = server + configManifestPath
	}
	return c.check(ctx, url, cfg.ConfigVersion)
}

// Apply downloads the candidate configuration and applies it through the
// config handle with config_version set to the manifest version.
func (c *ConfigStrategy) Apply(ctx context.Context) (Applied, error) {
	m, err := c.ensureCandidate(ctx, c.Check)
	if err != nil {
		return Applied{}, err
	}

	var buf bytes.Buffer
	if _, err := c.download(ctx, m, &buf, MaxConfigSize); err != nil {
		return Applied{}, err
	}

	res, err := c.deps.Config.ApplyVersion(buf.Bytes(), m.Version)
	if err != nil {
		class := ClassMalformedRemoteData
		if errors.Is(err, devconfig.ErrPersist) {
			class = ClassLocalPersistence
		}
		return Applied{}, &Error{Domain: c.domain, Class: class, Err: err}
	}

	c.deps.Log.Infow("configuration applied", "version", m.Version, "critical", res.Critical)
	c.candidate = nil
	return Applied{
		Previous:        res.Previous.ConfigVersion,
		Version:         m.Version,
		RestartRequired: c.mode == ModeReboot,
		Critical:        res.Critical,
	}, nil
}

var _ Strategy = (*ConfigStrategy)(nil)
