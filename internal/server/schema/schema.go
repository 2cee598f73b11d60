// Package schema declares the static table catalog governed by the
// encrypted record layer: every table name, its columns, and which of those
// columns hold sensitive values subject to per-user field encryption.
//
// The catalog is fixed for the lifetime of a schema version. Changing the
// sensitive set for a table requires a ciphertext migration; the catalog is
// validated at startup so a policy naming an unknown column is caught before
// any row is read or written under an inconsistent policy.
package schema

import "fmt"

// Table describes one governed table.
type Table struct {
	// Name is the table name as it appears in storage.
	Name string

	// Key is the primary key column.
	Key string

	// AutoKey reports whether storage assigns the key on insert. Tables with
	// AutoKey have any caller-side temporary identifier stripped before the
	// insert is delegated to the engine.
	AutoKey bool

	// Columns lists every column, including Key.
	Columns []string

	// Sensitive lists the columns whose values are encrypted at rest.
	// Must be a subset of Columns and must not include Key.
	Sensitive []string
}

// HasColumn reports whether name is a declared column of the table.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// IsSensitive reports whether the named column is subject to encryption.
func (t Table) IsSensitive(name string) bool {
	for _, c := range t.Sensitive {
		if c == name {
			return true
		}
	}
	return false
}

// Catalog is the full set of governed tables keyed by table name.
type Catalog map[string]Table

// Lookup returns the descriptor for a table name.
func (c Catalog) Lookup(name string) (Table, error) {
	t, ok := c[name]
	if !ok {
		return Table{}, fmt.Errorf("unknown table %q", name)
	}
	return t, nil
}

// Validate checks internal consistency of the catalog: the key and every
// sensitive column must be declared, the key itself must never be sensitive,
// and column lists must not contain duplicates.
func (c Catalog) Validate() error {
	for name, t := range c {
		if t.Name != name {
			return fmt.Errorf("table %q: descriptor name %q does not match key", name, t.Name)
		}
		if !t.HasColumn(t.Key) {
			return fmt.Errorf("table %q: key column %q is not declared", name, t.Key)
		}

		seen := make(map[string]struct{}, len(t.Columns))
		for _, col := range t.Columns {
			if _, dup := seen[col]; dup {
				return fmt.Errorf("table %q: duplicate column %q", name, col)
			}
			seen[col] = struct{}{}
		}

		for _, col := range t.Sensitive {
			if !t.HasColumn(col) {
				return fmt.Errorf("table %q: sensitive column %q is not declared", name, col)
			}
			if col == t.Key {
				return fmt.Errorf("table %q: key column %q cannot be sensitive", name, col)
			}
		}
	}
	return nil
}

// Default returns the catalog for the current schema version.
//
// Sensitive columns are stored passwords, private keys, and key passphrases
// only; names, tags, paths and timestamps stay in clear so lists can be
// filtered and sorted without decryption.
func Default() Catalog {
	tables := []Table{
		{
			Name: "users",
			Key:  "id",
			Columns: []string{
				"id", "username", "salt", "verifier", "is_admin",
				"oidc_subject", "totp_secret", "totp_backup_codes", "created_at",
			},
		},
		{
			Name:    "settings",
			Key:     "id",
			AutoKey: true,
			Columns: []string{"id", "user_id", "name", "value", "updated_at"},
		},
		{
			Name:    "hosts",
			Key:     "id",
			AutoKey: true,
			Columns: []string{
				"id", "user_id", "name", "address", "port", "username",
				"auth_type", "password", "ssh_key", "key_passphrase",
				"credential_id", "folder", "tags", "pinned",
				"created_at", "updated_at",
			},
			Sensitive: []string{"password", "ssh_key", "key_passphrase"},
		},
		{
			Name:    "credentials",
			Key:     "id",
			AutoKey: true,
			Columns: []string{
				"id", "user_id", "name", "username", "auth_type",
				"password", "ssh_key", "key_passphrase", "folder", "tags",
				"created_at", "updated_at",
			},
			Sensitive: []string{"password", "ssh_key", "key_passphrase"},
		},
		{
			Name:    "credential_usage",
			Key:     "id",
			AutoKey: true,
			Columns: []string{"id", "user_id", "credential_id", "host_id", "used_at"},
		},
		{
			Name:    "recent_files",
			Key:     "id",
			AutoKey: true,
			Columns: []string{"id", "user_id", "host_id", "path", "opened_at"},
		},
		{
			Name:    "pinned_files",
			Key:     "id",
			AutoKey: true,
			Columns: []string{"id", "user_id", "host_id", "path", "pinned_at"},
		},
		{
			Name:    "shortcuts",
			Key:     "id",
			AutoKey: true,
			Columns: []string{"id", "user_id", "host_id", "path", "created_at"},
		},
		{
			Name:    "refresh_tokens",
			Key:     "token",
			Columns: []string{"token", "user_id", "expires_at", "created_at"},
		},
	}

	c := make(Catalog, len(tables))
	for _, t := range tables {
		c[t.Name] = t
	}
	return c
}
