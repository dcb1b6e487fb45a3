// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"bytes"
	"encoding/xml"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a definitions source.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Unknown extensions are treated as XML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatXML
	}
}

// ConfigSource is one definitions document.
//
// XML documents have the form:
//
//	<monitors>
//	  <monitor class="system">
//	    <reading name="Memory - Used" unit="MB"/>
//	    <reading name="Process CPU usage - Total" unit="%" dynamic="true"/>
//	  </monitor>
//	</monitors>
//
// YAML documents carry the same information:
//
//	monitors:
//	  - class: system
//	    readings:
//	      - {name: "Memory - Used", unit: MB}
//	      - {name: "Process CPU usage - Total", unit: "%", dynamic: true}
type ConfigSource struct {
	// Origin names the source in error messages, usually the file path.
	Origin string
	Format Format
	Data   []byte
}

// MonitorConfig is a monitor and the readings it declares.
type MonitorConfig struct {
	Class    string
	Readings []ReadingDefinition
}

type xmlDocument struct {
	Monitors []xmlMonitor `xml:"monitor"`
}

type xmlMonitor struct {
	Class    *string      `xml:"class,attr"`
	Readings []xmlReading `xml:"reading"`
}

type xmlReading struct {
	Name    *string `xml:"name,attr"`
	Unit    *string `xml:"unit,attr"`
	Dynamic *string `xml:"dynamic,attr"`
}

type yamlDocument struct {
	Monitors []yamlMonitor `yaml:"monitors"`
}

type yamlMonitor struct {
	Class    *string       `yaml:"class"`
	Readings []yamlReading `yaml:"readings"`
}

type yamlReading struct {
	Name    *string `yaml:"name"`
	Unit    *string `yaml:"unit"`
	Dynamic bool    `yaml:"dynamic"`
}

// rawMonitor and rawReading are the format independent parse results.
// Nil pointers mark missing attributes.
type rawMonitor struct {
	class    *string
	readings []rawReading
}

type rawReading struct {
	name    *string
	unit    *string
	dynamic bool
}

// Parse decodes the source and validates every monitor and reading.
func (s ConfigSource) Parse() ([]MonitorConfig, error) {
	return s.parse()
}

func (s ConfigSource) parse() ([]MonitorConfig, error) {
	var raw []rawMonitor
	var err error
	switch s.Format {
	case FormatYAML:
		raw, err = decodeYAML(s.Data)
	default:
		raw, err = decodeXML(s.Data)
	}
	if err != nil {
		return nil, &ParseError{Msg: "Error parsing configuration file", File: s.Origin, Err: err}
	}

	monitors := make([]MonitorConfig, 0, len(raw))
	for _, m := range raw {
		if m.class == nil {
			return nil, &ParseError{Msg: "No monitor class specified", File: s.Origin}
		}
		monitor := MonitorConfig{Class: *m.class}

		for _, r := range m.readings {
			if r.name == nil {
				return nil, &ParseError{
					Msg:          "No reading name specified",
					File:         s.Origin,
					MonitorClass: monitor.Class,
				}
			}
			if r.unit == nil {
				return nil, &ParseError{
					Msg:          "No reading unit specified",
					File:         s.Origin,
					MonitorClass: monitor.Class,
					ReadingName:  *r.name,
				}
			}
			monitor.Readings = append(monitor.Readings,
				NewReadingDefinition(monitor.Class, *r.name, *r.unit, r.dynamic))
		}
		monitors = append(monitors, monitor)
	}
	return monitors, nil
}

func decodeXML(data []byte) ([]rawMonitor, error) {
	var doc xmlDocument
	decoder := xml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}

	monitors := make([]rawMonitor, 0, len(doc.Monitors))
	for _, m := range doc.Monitors {
		monitor := rawMonitor{class: m.Class}
		for _, r := range m.Readings {
			monitor.readings = append(monitor.readings, rawReading{
				name:    r.Name,
				unit:    r.Unit,
				dynamic: r.Dynamic != nil && strings.TrimSpace(*r.Dynamic) == "true",
			})
		}
		monitors = append(monitors, monitor)
	}
	return monitors, nil
}

func decodeYAML(data []byte) ([]rawMonitor, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	monitors := make([]rawMonitor, 0, len(doc.Monitors))
	for _, m := range doc.Monitors {
		monitor := rawMonitor{class: m.Class}
		for _, r := range m.Readings {
			monitor.readings = append(monitor.readings, rawReading{
				name:    r.Name,
				unit:    r.Unit,
				dynamic: r.Dynamic,
			})
		}
		monitors = append(monitors, monitor)
	}
	return monitors, nil
}
