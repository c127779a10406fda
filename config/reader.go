package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
)

// Read reads a calibration job from the given file, substituting ${VAR} references from the
// environment first.
func Read(filePath string) (*CalibrationConfig, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a calibration job from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*CalibrationConfig, error) {
	cfg := &CalibrationConfig{}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = originalPath
	return cfg, nil
}
