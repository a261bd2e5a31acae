package dump

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/remote"
)

// zipEpoch gives every IPA member a fixed timestamp so repeated dumps of
// the same app hash identically.
var zipEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// IOS copies the decrypted .app bundle of bundleID off a jailbroken phone
// and packages it as <outputDir>/<bundleID>_dump.ipa, saving the app's
// Info.plist under <outputDir>/permissions/. It returns the IPA path.
func IOS(bundleID string, sshCfg config.SSHConfig, outputDir string) (string, error) {
	log := logging.With("dump", "ios")

	cli, err := remote.Dial(sshCfg)
	if err != nil {
		return "", err
	}
	defer cli.Close()

	appDir, err := findAppDir(cli, bundleID)
	if err != nil {
		return "", err
	}
	interaction.Status("Found app bundle: %s", appDir)

	payloadDir := filepath.Join(outputDir, "Payload")
	defer os.RemoveAll(payloadDir)

	localApp := filepath.Join(payloadDir, filepath.Base(appDir))
	if err := cli.FetchDir(appDir, localApp); err != nil {
		return "", err
	}

	ipaPath := filepath.Join(outputDir, bundleID+"_dump.ipa")
	interaction.Status("Packaging %s", ipaPath)
	if err := zipPayload(payloadDir, ipaPath); err != nil {
		return "", err
	}

	if err := savePlist(localApp, filepath.Join(outputDir, "permissions"), bundleID); err != nil {
		log.Warn("failed to save Info.plist", "error", err)
	}
	return ipaPath, nil
}

// findAppDir locates the installed .app directory by grepping Info.plist
// files for the bundle id, checking user containers first and system apps
// as a fallback.
func findAppDir(cli *remote.Client, bundleID string) (string, error) {
	searches := []string{
		"/private/var/containers/Bundle/Application/*/*/*.plist",
		"/Applications/*/*.plist",
	}
	for _, glob := range searches {
		cmd := fmt.Sprintf("sh -c 'grep -inl --include=Info.plist %q %s || true'", bundleID, glob)
		rc, out, _, err := cli.Exec(cmd)
		if err != nil {
			return "", err
		}
		if rc != 0 {
			continue
		}
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			dir := filepath.Dir(line)
			if strings.HasSuffix(strings.ToLower(dir), ".app") {
				return dir, nil
			}
		}
	}
	return "", fmt.Errorf("app %s not found on device", bundleID)
}

// zipPayload writes payloadDir into ipaPath as Payload/..., normalising
// entry order, timestamps and modes for reproducible output.
func zipPayload(payloadDir, ipaPath string) error {
	out, err := os.Create(ipaPath)
	if err != nil {
		return fmt.Errorf("failed to create IPA: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	root := filepath.Dir(payloadDir)

	var files []string
	err = filepath.WalkDir(payloadDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk payload: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		hdr := &zip.FileHeader{
			Name:     filepath.ToSlash(rel),
			Method:   zip.Deflate,
			Modified: zipEpoch,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(file)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalise IPA: %w", err)
	}
	return nil
}

// savePlist copies the bundle's Info.plist for later permission analysis.
func savePlist(localApp, permissionsDir, bundleID string) error {
	src := filepath.Join(localApp, "Info.plist")
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(permissionsDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(permissionsDir, bundleID+"_Info.plist")
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	interaction.Status("Info.plist saved to %s", dst)
	return nil
}
