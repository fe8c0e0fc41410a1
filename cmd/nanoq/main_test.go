package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tobsdb/nanoq/internal/config"
	"gotest.tools/assert"
)

func run(args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeSchema(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "schema.nq")
	assert.NilError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeSchema(t, "$TABLE a {\n id Int key(primary)\n}\n$TABLE b {\n id UUID key(primary)\n}")
		out, err := run("validate", path)
		assert.NilError(t, err)
		assert.Assert(t, bytes.Contains([]byte(out), []byte("Schema checks successful: 2 tables are valid")), out)
	})

	t.Run("invalid", func(t *testing.T) {
		path := writeSchema(t, "$TABLE a {\n a Int\n}")
		_, err := run("validate", path)
		assert.ErrorContains(t, err, "Invalid schema; ")
		assert.ErrorContains(t, err, "Table a has no primary key")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := run("validate", filepath.Join(t.TempDir(), "nope.nq"))
		assert.Assert(t, err != nil)
	})
}

func TestOpenDatabase(t *testing.T) {
	cfg, err := config.LoadConfig("")
	assert.NilError(t, err)
	cfg.Database.Schema = writeSchema(t, "$TABLE a {\n id Int key(primary)\n}")

	db, err := openDatabase(context.Background(), cfg)
	assert.NilError(t, err)
	assert.DeepEqual(t, db.TableNames(), []string{"a"})
}
