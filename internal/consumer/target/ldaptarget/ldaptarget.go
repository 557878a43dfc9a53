// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package ldaptarget implements the "ldap" consumer target plugin:
// applied events become directory mutations (add/modify/delete
// entries) against an LDAP server, using the same driver the producer
// side uses to read from a directory.
package ldaptarget

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource/ldapdrv"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
)

// Config describes how to connect to the directory and where in it
// applied entries of each type are rooted.
type Config struct {
	Conn ldapdrv.Config
	// BaseDNByType maps an entity type name to the DN suffix new
	// entries of that type are created under, e.g.
	// "ou=people,dc=example,dc=org".
	BaseDNByType map[string]string
	// RDNAttr is the attribute used to build the leaf RDN, e.g. "uid".
	RDNAttr string
}

type plugin struct {
	cfg Config
	drv datasource.Driver
}

// New constructs the ldap target plugin.
func New(ctx context.Context, cfg Config) (*plugin, error) {
	drv, err := ldapdrv.Open(ctx, cfg.Conn)
	if err != nil {
		return nil, errors.Wrap(err, "ldaptarget: open")
	}
	return &plugin{cfg: cfg, drv: drv}, nil
}

func (p *plugin) dn(typeName string, ev emitter.Event) (string, error) {
	base, ok := p.cfg.BaseDNByType[typeName]
	if !ok {
		return "", errors.Errorf("ldaptarget: no base DN configured for type %q", typeName)
	}
	rdnVal, ok := ev.Attrs[p.cfg.RDNAttr]
	if !ok {
		// Removals carry no attributes and a modification carries
		// only the attributes that changed; without the RDN attribute,
		// fall back to the remote pkey as the RDN value.
		return fmt.Sprintf("%s=%s,%s", p.cfg.RDNAttr, ev.RemotePKey, base), nil
	}
	rdn, _ := rdnVal.AsString()
	return fmt.Sprintf("%s=%s,%s", p.cfg.RDNAttr, rdn, base), nil
}

// Apply implements target.Target.
func (p *plugin) Apply(ctx context.Context, typeName string, ev emitter.Event) error {
	dn, err := p.dn(typeName, ev)
	if err != nil {
		return err
	}

	switch ev.Op {
	case cache.Removed:
		return p.drv.Delete(ctx, "", datasource.Vars{"dn": dn})
	case cache.Added:
		addlist := make(map[string][]string, len(ev.Attrs))
		for attr, v := range ev.Attrs {
			if s, ok := v.AsString(); ok {
				addlist[attr] = []string{s}
			}
		}
		return p.drv.Add(ctx, "", datasource.Vars{"dn": dn, "addlist": addlist})
	default: // cache.Modified
		modlist := make(map[string][]string, len(ev.Attrs))
		for attr, v := range ev.Attrs {
			if v.IsNull() {
				modlist[attr] = nil
				continue
			}
			if s, ok := v.AsString(); ok {
				modlist[attr] = []string{s}
			}
		}
		return p.drv.Modify(ctx, "", datasource.Vars{"dn": dn, "modlist": modlist})
	}
}

// Close implements target.Target.
func (p *plugin) Close() error { return p.drv.Close() }
