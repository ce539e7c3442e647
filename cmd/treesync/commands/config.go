package commands

import (
	"github.com/teranos/treesync/am"
	"github.com/teranos/treesync/errors"
)

// loadConfig loads and validates the layered configuration
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(
			errors.Wrap(err, "invalid configuration"),
			"run 'treesync am where' to see which file sets each value")
	}
	return cfg, nil
}
