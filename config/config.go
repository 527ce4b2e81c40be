// Package config loads telescope definitions from YAML.
//
// Angles in the file are in degrees:
//
//	telescopes:
//	  - name: brage
//	    kind: hardware
//	    location: {longitude: 11.918750, latitude: 57.393444}
//	    min_altitude: 5
//	    controller_address: 192.168.5.110:23
//	    receiver_address: 192.168.5.111:1234
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/w1xm/salsa_interface/coords"
	"github.com/w1xm/salsa_interface/telescope"
)

// DefaultMinAltitude applies when min_altitude is omitted, in degrees.
const DefaultMinAltitude = 5.0

type File struct {
	Telescopes []Telescope `yaml:"telescopes"`
}

type Telescope struct {
	Name string `yaml:"name"`
	// Enabled defaults to true.
	Enabled           *bool    `yaml:"enabled"`
	Location          Location `yaml:"location"`
	MinAltitude       *float64 `yaml:"min_altitude"`
	Kind              string   `yaml:"kind"`
	ControllerAddress string   `yaml:"controller_address"`
	ReceiverAddress   string   `yaml:"receiver_address"`
}

type Location struct {
	Longitude float64 `yaml:"longitude"`
	Latitude  float64 `yaml:"latitude"`
}

// Load reads the definitions in the file at path.
func Load(path string) ([]telescope.Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	defs, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(data []byte) ([]telescope.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(f.Telescopes) == 0 {
		return nil, errors.New("no telescopes defined")
	}
	seen := make(map[string]bool)
	var defs []telescope.Definition
	for i, t := range f.Telescopes {
		def := t.Definition()
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("telescope %d: %w", i, err)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate telescope %q", def.Name)
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	return defs, nil
}

// Definition converts t to radians and fills in defaults.
func (t Telescope) Definition() telescope.Definition {
	def := telescope.Definition{
		Name:    t.Name,
		Enabled: true,
		Location: coords.Location{
			Longitude: coords.Deg2Rad(t.Location.Longitude),
			Latitude:  coords.Deg2Rad(t.Location.Latitude),
		},
		MinAltitude:       coords.Deg2Rad(DefaultMinAltitude),
		Kind:              telescope.Kind(t.Kind),
		ControllerAddress: t.ControllerAddress,
		ReceiverAddress:   t.ReceiverAddress,
	}
	if t.Enabled != nil {
		def.Enabled = *t.Enabled
	}
	if t.MinAltitude != nil {
		def.MinAltitude = coords.Deg2Rad(*t.MinAltitude)
	}
	return def
}
