package config

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// FromFile loads config from the given file, overriding defaults. A missing
// file is not an error; the defaults are returned as-is.
func FromFile(path string) (*Simulator, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return DefaultSimulator(), nil
	case err != nil:
		return nil, xerrors.Errorf("opening config file: %w", err)
	}
	defer file.Close() // nolint

	return FromReader(file, DefaultSimulator())
}

// FromReader loads config from a reader instance, on top of def.
func FromReader(reader io.Reader, def *Simulator) (*Simulator, error) {
	cfg := def
	if _, err := toml.NewDecoder(reader).Decode(cfg); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Simulator) Validate() error {
	if c.Data.QueryPoints < 1 || c.Data.ReferencePoints < 1 {
		return xerrors.New("config: point counts must be positive")
	}
	if c.Data.Dimensions < 1 {
		return xerrors.New("config: dimensions must be positive")
	}
	if c.Engine.Workers < 1 {
		return xerrors.New("config: need at least one worker")
	}
	if c.Engine.LeafSize < 1 || c.Engine.MaxSubtreeSize < 1 {
		return xerrors.New("config: leaf size and max subtree size must be positive")
	}
	if c.Engine.Radius <= 0 {
		return xerrors.New("config: radius must be positive")
	}
	return nil
}
