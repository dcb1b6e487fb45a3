// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"strings"
)

// Catalog expands monitoring requests into reading definitions taken from a repository.
// Expansion never changes the repository.
type Catalog struct {
	repo *Repository
}

// NewCatalog creates a catalog over repo.
func NewCatalog(repo *Repository) *Catalog {
	return &Catalog{repo: repo}
}

// ExpandSystemMetrics resolves each token to definitions. A token is either a
// group token (CPU, MEMORY, VIRTUAL-MEMORY, IO, NETWORK-INTERFACES, NETSTAT,
// TCP) or the name of a custom reading that must exist in the repository.
// The result holds each reading once, in first-seen order.
func (c *Catalog) ExpandSystemMetrics(tokens []string) ([]ReadingDefinition, error) {
	var names []string
	for _, token := range tokens {
		if group, ok := systemGroups[strings.ToUpper(strings.TrimSpace(token))]; ok {
			names = append(names, group...)
		} else {
			names = append(names, token)
		}
	}
	return c.resolve(names, nil)
}

// ExpandProcessMetrics resolves process reading tokens (CPU, MEMORY or
// explicit process reading names) and stamps every definition with the
// parameters identifying the monitored process. parentName and username are
// optional.
func (c *Catalog) ExpandProcessMetrics(parentName, pattern, alias, username string, tokens []string) ([]ReadingDefinition, error) {
	var names []string
	for _, token := range tokens {
		if group, ok := processGroups[strings.ToUpper(strings.TrimSpace(token))]; ok {
			names = append(names, group...)
			continue
		}
		if !IsProcessReading(token) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetricKind, token)
		}
		names = append(names, token)
	}

	params := map[string]string{
		ParamProcessRecognitionPattern: pattern,
		ParamProcessAlias:              alias,
	}
	if parentName != "" {
		params[ParamProcessParentName] = parentName
	}
	if username != "" {
		params[ParamProcessUsername] = username
	}

	defs, err := c.resolve(names, params)
	if err != nil {
		return nil, err
	}
	for i := range defs {
		defs[i].Dynamic = true
	}
	return defs, nil
}

func (c *Catalog) resolve(names []string, params map[string]string) ([]ReadingDefinition, error) {
	seen := make(map[string]bool, len(names))
	defs := make([]ReadingDefinition, 0, len(names))
	for _, name := range names {
		key := readingKey(name)
		if seen[key] {
			continue
		}
		seen[key] = true

		def, err := c.repo.Definition(name)
		if err != nil {
			return nil, err
		}
		for k, v := range params {
			def.SetParameter(k, v)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
