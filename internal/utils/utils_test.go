package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sha256("abc")
const abcDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestSHA256Reader(t *testing.T) {
	sum, n, err := SHA256Reader(strings.NewReader("abc"))
	require.NoError(t, err)
	assert.Equal(t, abcDigest, sum)
	assert.Equal(t, int64(3), n)
}

func TestHashingWriter(t *testing.T) {
	var buf bytes.Buffer
	hw := NewHashingWriter(&buf)

	_, err := hw.Write([]byte("a"))
	require.NoError(t, err)
	_, err = hw.Write([]byte("bc"))
	require.NoError(t, err)

	assert.Equal(t, abcDigest, hw.Sum())
	assert.Equal(t, int64(3), hw.Size())
	assert.Equal(t, "abc", buf.String())
}

func TestCalculateFileSHA256Checksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := CalculateFileSHA256Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, abcDigest, sum)

	_, err = CalculateFileSHA256Checksum(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Reviewer!Pass123")
	require.NoError(t, err)
	assert.NoError(t, CheckPasswordHash("Reviewer!Pass123", hash))
	assert.Error(t, CheckPasswordHash("wrong", hash))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword("Reviewer!Pass123"))
	assert.Error(t, ValidatePassword("Short1!"))
	assert.Error(t, ValidatePassword("alllowercase123!"))
	assert.Error(t, ValidatePassword("NoSymbolsHere123"))
}
