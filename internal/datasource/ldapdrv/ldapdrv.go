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

// Package ldapdrv implements the Datasource Driver Interface (C4) over
// an LDAP directory, using go-ldap/ldap/v3. Fetch runs a search bound
// by the "base"/"scope"/"filter"/"attrlist" vars of §4.2. Add takes a
// "dn" var and an "addlist", Modify a "dn" and a "modlist", and Delete
// only a "dn"; no "dellist" var is read. Only Fetch reconnects after a
// lost connection; Add, Modify and Delete return the error without
// reconnecting.
package ldapdrv

import (
	"context"
	"crypto/tls"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Config describes how to connect and bind to a directory.
type Config struct {
	URI          string
	BindDN       string
	BindPassword string
	StartTLS     bool
	InsecureTLS  bool
}

type driver struct {
	cfg  Config
	conn *ldap.Conn
}

var _ datasource.Driver = (*driver)(nil)

// Open dials and binds to the directory described by cfg.
func Open(ctx context.Context, cfg Config) (datasource.Driver, error) {
	d := &driver{cfg: cfg}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *driver) connect() error {
	conn, err := ldap.DialURL(d.cfg.URI)
	if err != nil {
		return errors.Wrap(err, "ldapdrv: dial")
	}
	if d.cfg.StartTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: d.cfg.InsecureTLS} //nolint:gosec
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return errors.Wrap(err, "ldapdrv: starttls")
		}
	}
	if d.cfg.BindDN != "" {
		if err := conn.Bind(d.cfg.BindDN, d.cfg.BindPassword); err != nil {
			conn.Close()
			return errors.Wrap(err, "ldapdrv: bind")
		}
	}
	d.conn = conn
	return nil
}

// scopeOf maps a "base"/"one"/"sub" string to the go-ldap scope constant.
func scopeOf(s string) int {
	switch s {
	case "base":
		return ldap.ScopeBaseObject
	case "one":
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// Fetch implements datasource.Driver. It reconnects once on a
// connection-closed error before giving up, matching the reconnect
// contract of datasource.Driver.
func (d *driver) Fetch(ctx context.Context, query string, vars datasource.Vars, fn func(datasource.Row) error) error {
	res, err := d.search(vars)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
			log.Warn("ldapdrv: connection lost, reconnecting")
			if connErr := d.connect(); connErr != nil {
				return errors.WithStack(err)
			}
			res, err = d.search(vars)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}

	for _, entry := range res.Entries {
		row := make(datasource.Row, len(entry.Attributes)+1)
		row["dn"] = value.String(entry.DN)
		for _, attr := range entry.Attributes {
			if len(attr.Values) == 1 {
				row[attr.Name] = value.String(attr.Values[0])
				continue
			}
			items := make([]value.Value, len(attr.Values))
			for i, v := range attr.Values {
				items[i] = value.String(v)
			}
			row[attr.Name] = value.List(items)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func (d *driver) search(vars datasource.Vars) (*ldap.SearchResult, error) {
	base, _ := vars["base"].(string)
	scope, _ := vars["scope"].(string)
	filter, _ := vars["filter"].(string)
	attrlist, _ := vars["attrlist"].([]string)
	if filter == "" {
		filter = "(objectClass=*)"
	}

	req := ldap.NewSearchRequest(
		base,
		scopeOf(scope), ldap.NeverDerefAliases, 0, 0, false,
		filter, attrlist, nil,
	)
	return d.conn.Search(req)
}

// Add implements datasource.Driver. vars must contain "dn" and
// "addlist" (map[string][]string of attribute -> values).
func (d *driver) Add(ctx context.Context, query string, vars datasource.Vars) error {
	dn, _ := vars["dn"].(string)
	addlist, _ := vars["addlist"].(map[string][]string)
	if dn == "" {
		return errors.New("ldapdrv: add requires a \"dn\" var")
	}
	req := ldap.NewAddRequest(dn, nil)
	for attr, values := range addlist {
		req.Attribute(attr, values)
	}
	if err := d.conn.Add(req); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Modify implements datasource.Driver. vars must contain "dn" and
// "modlist" (map[string][]string of attribute -> replacement values;
// an empty slice removes the attribute).
func (d *driver) Modify(ctx context.Context, query string, vars datasource.Vars) error {
	dn, _ := vars["dn"].(string)
	modlist, _ := vars["modlist"].(map[string][]string)
	if dn == "" {
		return errors.New("ldapdrv: modify requires a \"dn\" var")
	}
	req := ldap.NewModifyRequest(dn, nil)
	for attr, values := range modlist {
		if len(values) == 0 {
			req.Delete(attr, nil)
			continue
		}
		req.Replace(attr, values)
	}
	if err := d.conn.Modify(req); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Delete implements datasource.Driver. vars must contain "dn".
func (d *driver) Delete(ctx context.Context, query string, vars datasource.Vars) error {
	dn, _ := vars["dn"].(string)
	if dn == "" {
		return errors.New("ldapdrv: delete requires a \"dn\" var")
	}
	req := ldap.NewDelRequest(dn, nil)
	if err := d.conn.Del(req); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Close implements datasource.Driver.
func (d *driver) Close() error {
	return d.conn.Close()
}
