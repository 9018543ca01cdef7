// Package config loads service.Config values from an external file. Two
// formats are supported: JSON via encoding/json and TOML via
// github.com/BurntSushi/toml, picked by file extension.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/cachefront/reactor/service"
)

// DecodeSection reads the top-level table named name out of path into dst,
// choosing TOML or JSON decoding from the file extension (".toml" for the
// former, anything else including ".json" for the latter). This is the
// generic primitive Load builds on; cache-server's table-hashing config
// (prefix/count, alongside the front_service/db_service sections in the
// same file) decodes through this directly since it isn't a
// service.Config.
func DecodeSection(path, name string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config: read %s", path)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var sections map[string]toml.Primitive
		md, err := toml.Decode(string(raw), &sections)
		if err != nil {
			return errors.Wrapf(err, "config: decode toml %s", path)
		}
		section, ok := sections[name]
		if !ok {
			return errors.Errorf("config: %s has no section %q", path, name)
		}
		if err := md.PrimitiveDecode(section, dst); err != nil {
			return errors.Wrapf(err, "config: decode toml section %q", name)
		}
		return nil
	}

	var sections map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sections); err != nil {
		return errors.Wrapf(err, "config: decode json %s", path)
	}
	section, ok := sections[name]
	if !ok {
		return errors.Errorf("config: %s has no section %q", path, name)
	}
	if err := json.Unmarshal(section, dst); err != nil {
		return errors.Wrapf(err, "config: decode json section %q", name)
	}
	return nil
}

// Load reads path and returns the service.Config stored under name.
// An unparseable address is not caught here; service.Service.Start
// rejects those at bind/dial time, aborting startup.
func Load(path, name string) (service.Config, error) {
	var cfg service.Config
	if err := DecodeSection(path, name, &cfg); err != nil {
		return service.Config{}, err
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// Server builds a single-listen, no-connect Config without a file.
func Server(name, addr string) service.Config {
	return service.Config{Name: name, Listen: []string{addr}}
}

// Client builds a single-connect, no-listen Config without a file.
func Client(name, addr string) service.Config {
	return service.Config{Name: name, Connect: []string{addr}}
}
