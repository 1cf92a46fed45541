package pipeline

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestDetectSourceKind(t *testing.T) {
	tests := []struct {
		path    string
		want    SourceKind
		wantErr bool
	}{
		{path: "data/allocations.csv", want: SourceDelimited},
		{path: "DATA/ALLOCATIONS.CSV", want: SourceDelimited},
		{path: "data/art01.sqlite", want: SourceEmbedded},
		{path: "data/art01.db", want: SourceEmbedded},
		{path: "data/sqlite/export", want: SourceEmbedded},
		{path: "data/allocations.parquet", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			kind, err := DetectSourceKind(tt.path)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestParseSourceKind(t *testing.T) {
	kind, err := ParseSourceKind(" Embedded ")
	require.NoError(t, err)
	assert.Equal(t, SourceEmbedded, kind)

	kind, err = ParseSourceKind("")
	require.NoError(t, err)
	assert.Equal(t, SourceKind(""), kind)

	_, err = ParseSourceKind("parquet")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDelimitedFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allocations.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffid, f1, f2, outcome\n1,0.1,1.0,0\n2,0.9,1.5,1\n"), 0o644))

	loader, err := NewLoader(SourceDelimited, LoaderConfig{})
	require.NoError(t, err)
	ds, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "f1", "f2", "outcome"}, ds.Columns)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"2", "0.9", "1.5", "1"}, ds.Rows[1])
}

func TestDelimitedFileLoaderEncodingAndDelimiter(t *testing.T) {
	content, err := simplifiedchinese.GBK.NewEncoder().String("id;评分;outcome\n1;3.5;1\n")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "gbk.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	loader, err := NewDelimitedFileLoader(LoaderConfig{Delimiter: ";", Encoding: "gbk"})
	require.NoError(t, err)
	ds, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "评分", "outcome"}, ds.Columns)
	assert.Equal(t, "3.5", ds.Rows[0][1])
}

func TestDelimitedFileLoaderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewDelimitedFileLoader(LoaderConfig{Delimiter: "::"})
	require.Error(t, err)
	_, traced := err.(interface{ StackTrace() errors.StackTrace })
	assert.True(t, traced)
	_, err = NewDelimitedFileLoader(LoaderConfig{Encoding: "klingon"})
	assert.Error(t, err)

	loader, err := NewDelimitedFileLoader(LoaderConfig{})
	require.NoError(t, err)

	_, err = loader.Load(context.Background(), filepath.Join(dir, "missing.csv"))
	assert.True(t, os.IsNotExist(errors.Cause(err)))

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = loader.Load(context.Background(), empty)
	assert.True(t, errors.Is(err, ErrDataShape))

	ragged := filepath.Join(dir, "ragged.csv")
	require.NoError(t, os.WriteFile(ragged, []byte("id,f1,outcome\n1,0.5\n"), 0o644))
	ds, err := loader.Load(context.Background(), ragged)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "0.5"}}, ds.Rows)
	_, err = Split(ds, DefaultTargetColumn, IDColumn)
	assert.True(t, errors.Is(err, ErrDataShape))
}

func TestEmbeddedTableLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "art01.sqlite")
	database, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = database.Exec(`
        CREATE TABLE allocations (id INTEGER PRIMARY KEY, time_minutes REAL, money_cents INTEGER, purpose TEXT, outcome INTEGER);
        INSERT INTO allocations VALUES (1, 120.5, 5000, 'supplies', 1);
        INSERT INTO allocations VALUES (2, 30, 0, NULL, 0);
    `)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	loader, err := NewLoader(SourceEmbedded, LoaderConfig{})
	require.NoError(t, err)
	ds, err := loader.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "time_minutes", "money_cents", "purpose", "outcome"}, ds.Columns)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []string{"1", "120.5", "5000", "supplies", "1"}, ds.Rows[0])
	assert.Equal(t, "", ds.Rows[1][3])
}

func TestEmbeddedTableLoaderErrors(t *testing.T) {
	dir := t.TempDir()
	loader := &EmbeddedTableLoader{}

	missing := filepath.Join(dir, "missing.sqlite")
	_, err := loader.Load(context.Background(), missing)
	assert.Error(t, err)
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr), "loader must not create the database file")

	path := filepath.Join(dir, "other.sqlite")
	database, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = database.Exec(`CREATE TABLE artists (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)
	require.NoError(t, database.Close())

	_, err = loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestNewLoaderUnknownKind(t *testing.T) {
	_, err := NewLoader(SourceKind("parquet"), LoaderConfig{})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}
