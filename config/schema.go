package config

import "github.com/invopop/jsonschema"

// Schema describes the calibration job file.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&CalibrationConfig{})
}
