package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Valid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDefaultCatalog_SensitiveColumns(t *testing.T) {
	c := Default()

	hosts, err := c.Lookup("hosts")
	require.NoError(t, err)

	assert.True(t, hosts.IsSensitive("password"))
	assert.True(t, hosts.IsSensitive("ssh_key"))
	assert.True(t, hosts.IsSensitive("key_passphrase"))
	assert.False(t, hosts.IsSensitive("name"))
	assert.False(t, hosts.IsSensitive("tags"))

	users, err := c.Lookup("users")
	require.NoError(t, err)
	assert.Empty(t, users.Sensitive)
}

func TestLookup_UnknownTable(t *testing.T) {
	_, err := Default().Lookup("no_such_table")
	assert.Error(t, err)
}

func TestValidate_SensitiveNotDeclared(t *testing.T) {
	c := Catalog{
		"t": {Name: "t", Key: "id", Columns: []string{"id", "a"}, Sensitive: []string{"b"}},
	}
	assert.Error(t, c.Validate())
}

func TestValidate_KeyCannotBeSensitive(t *testing.T) {
	c := Catalog{
		"t": {Name: "t", Key: "id", Columns: []string{"id", "a"}, Sensitive: []string{"id"}},
	}
	assert.Error(t, c.Validate())
}

func TestValidate_KeyMustBeDeclared(t *testing.T) {
	c := Catalog{
		"t": {Name: "t", Key: "id", Columns: []string{"a"}},
	}
	assert.Error(t, c.Validate())
}

func TestValidate_DuplicateColumn(t *testing.T) {
	c := Catalog{
		"t": {Name: "t", Key: "id", Columns: []string{"id", "a", "a"}},
	}
	assert.Error(t, c.Validate())
}

func TestValidate_NameMismatch(t *testing.T) {
	c := Catalog{
		"t": {Name: "other", Key: "id", Columns: []string{"id"}},
	}
	assert.Error(t, c.Validate())
}

func TestRecord_Clone(t *testing.T) {
	r := Record{"a": 1, "b": "x"}
	c := r.Clone()

	c["a"] = 2
	assert.Equal(t, 1, r["a"])
	assert.Equal(t, 2, c["a"])
}
