package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFixture lays out the on-disk paths a valid config refers to and
// returns a config file built from the template with those paths filled in.
func writeFixture(t *testing.T, template string) string {
	t.Helper()
	dir := t.TempDir()

	coordsDir := filepath.Join(dir, "coords")
	require.NoError(t, os.MkdirAll(coordsDir, 0o755))
	cropFile := filepath.Join(dir, "crop_regions.json")
	require.NoError(t, os.WriteFile(cropFile, []byte("{}"), 0o644))
	upScript := filepath.Join(dir, "iptables_up.sh")
	downScript := filepath.Join(dir, "iptables_down.sh")
	require.NoError(t, os.WriteFile(upScript, []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(downScript, []byte("#!/bin/sh\n"), 0o755))

	content := fmt.Sprintf(template, filepath.Join(dir, "out"), coordsDir, cropFile, upScript, downScript)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const androidLANConfig = `platform: android
network_profile: lan
server_interface: eth0
phone_interface: wlan0
output_path: %s
tap_coordinates_path: %s
image_crop_regions_path: %s
iptables_script_up_path: %s
iptables_script_down_path: %s
android:
  pcapdroid_api_key: secret
  pcap_download_path: /sdcard/Download
  bluetooth_log_path: /sdcard/btsnoop_hci.log
`

func TestLoad_AndroidLAN(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeFixture(t, androidLANConfig))
	require.NoError(t, err)

	assert.Equal(t, PlatformAndroid, cfg.Platform)
	assert.Equal(t, ProfileLAN, cfg.NetworkProfile)
	assert.Equal(t, "eth0", cfg.ServerInterface)
	require.NotNil(t, cfg.Android)
	assert.Equal(t, "secret", cfg.Android.PCAPdroidAPIKey)

	// Defaults applied.
	assert.Equal(t, DefaultFridaIterations, cfg.FridaIterations)
	assert.Equal(t, DefaultNoFridaIterations, cfg.NoFridaIterations)
	assert.Equal(t, DefaultImageSimilarityThreshold, cfg.ImageSimilarityThreshold)

	// Paths are made absolute.
	assert.True(t, filepath.IsAbs(cfg.OutputPath))
	assert.True(t, filepath.IsAbs(cfg.TapCoordinatesPath))
}

func TestLoad_IOSDefaults(t *testing.T) {
	t.Parallel()

	sshKey := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(sshKey, []byte("key"), 0o600))

	template := `platform: ios
network_profile: lan
server_interface: eth0
phone_interface: en2
output_path: %s
tap_coordinates_path: %s
image_crop_regions_path: %s
iptables_script_up_path: %s
iptables_script_down_path: %s
ios:
  ssh:
    host: 192.168.1.20
    username: mobile
    key_path: ` + sshKey + `
  phone_pcap_save_path: /var/mobile/pcaps
`
	cfg, err := Load(writeFixture(t, template))
	require.NoError(t, err)

	require.NotNil(t, cfg.IOS)
	assert.Equal(t, DefaultSSHPort, cfg.IOS.SSH.Port)
	assert.Equal(t, DefaultWDAURL, cfg.IOS.WDAURL)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("platform: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(cfg *Config)
		field  string
	}{
		{"bad platform", func(c *Config) { c.Platform = "windows" }, "platform"},
		{"bad profile", func(c *Config) { c.NetworkProfile = "vpn" }, "network_profile"},
		{"missing server interface", func(c *Config) { c.ServerInterface = "" }, "server_interface"},
		{"missing phone interface", func(c *Config) { c.PhoneInterface = "" }, "phone_interface"},
		{"missing output path", func(c *Config) { c.OutputPath = "" }, "output_path"},
		{"negative iterations", func(c *Config) { c.FridaIterations = -1 }, "frida_iterations"},
		{"threshold out of range", func(c *Config) { c.ImageSimilarityThreshold = 1.5 }, "image_similarity_threshold"},
		{"android config missing", func(c *Config) { c.Android = nil }, "android"},
		{"ios config on android", func(c *Config) { c.IOS = &IOSConfig{} }, "ios"},
		{"wan without relay", func(c *Config) { c.NetworkProfile = ProfileWAN }, "remote_server_ssh"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(writeFixture(t, androidLANConfig))
			require.NoError(t, err)
			tc.mutate(cfg)

			err = Validate(cfg)
			var vErr ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}
