package dump

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePayload(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	appDir := filepath.Join(root, "Payload", "Demo.app")
	require.NoError(t, os.MkdirAll(filepath.Join(appDir, "Frameworks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "Info.plist"), []byte("<plist/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "Demo"), []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "Frameworks", "lib.dylib"), []byte("lib"), 0o644))
	return filepath.Join(root, "Payload")
}

func TestZipPayload(t *testing.T) {
	t.Parallel()

	payloadDir := writePayload(t)
	ipaPath := filepath.Join(t.TempDir(), "com.example.demo_dump.ipa")
	require.NoError(t, zipPayload(payloadDir, ipaPath))

	zr, err := zip.OpenReader(ipaPath)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		assert.True(t, f.Modified.Equal(zipEpoch), "%s modified at %s", f.Name, f.Modified)
	}
	// Entries are rooted under Payload/ and sorted.
	assert.Equal(t, []string{
		"Payload/Demo.app/Demo",
		"Payload/Demo.app/Frameworks/lib.dylib",
		"Payload/Demo.app/Info.plist",
	}, names)
}

func TestZipPayload_Reproducible(t *testing.T) {
	t.Parallel()

	payloadDir := writePayload(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.ipa")
	b := filepath.Join(dir, "b.ipa")
	require.NoError(t, zipPayload(payloadDir, a))
	require.NoError(t, zipPayload(payloadDir, b))

	da, err := os.ReadFile(a)
	require.NoError(t, err)
	db, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestSavePlist(t *testing.T) {
	t.Parallel()

	payloadDir := writePayload(t)
	permDir := filepath.Join(t.TempDir(), "permissions")

	appDir := filepath.Join(payloadDir, "Demo.app")
	require.NoError(t, savePlist(appDir, permDir, "com.example.demo"))

	data, err := os.ReadFile(filepath.Join(permDir, "com.example.demo_Info.plist"))
	require.NoError(t, err)
	assert.Equal(t, "<plist/>", string(data))
}

func TestSavePlist_MissingPlist(t *testing.T) {
	t.Parallel()

	err := savePlist(t.TempDir(), t.TempDir(), "com.example.demo")
	assert.Error(t, err)
}
