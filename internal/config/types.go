package config

// Platform identifies the phone platform under test.
type Platform string

// Supported platforms.
const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// NetworkProfile identifies where the phone sits relative to the capture
// server: on the same network (lan) or behind a separate uplink with an
// additional relay host (wan).
type NetworkProfile string

// Supported network profiles.
const (
	ProfileLAN NetworkProfile = "lan"
	ProfileWAN NetworkProfile = "wan"
)

// SSHConfig describes one SSH endpoint (jailbroken phone or relay host).
// Exactly one of KeyPath or Password must be set.
type SSHConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	KeyPath  string `yaml:"key_path,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// AndroidConfig holds Android-specific settings.
type AndroidConfig struct {
	PCAPdroidAPIKey  string `yaml:"pcapdroid_api_key"`
	PcapDownloadPath string `yaml:"pcap_download_path"`
	BluetoothLogPath string `yaml:"bluetooth_log_path"`
}

// IOSConfig holds iOS-specific settings. The phone must be jailbroken and
// reachable over SSH; UI automation goes through a WebDriverAgent endpoint.
type IOSConfig struct {
	SSH               SSHConfig `yaml:"ssh"`
	PhonePcapSavePath string    `yaml:"phone_pcap_save_path"`
	WDAURL            string    `yaml:"wda_url"`
}

// Config is the resolved experiment configuration. It is immutable for the
// lifetime of a run.
type Config struct {
	Platform       Platform       `yaml:"platform"`
	NetworkProfile NetworkProfile `yaml:"network_profile"`

	ServerInterface string `yaml:"server_interface"`
	PhoneInterface  string `yaml:"phone_interface"`
	OutputPath      string `yaml:"output_path"`

	FridaIterations   int `yaml:"frida_iterations"`
	NoFridaIterations int `yaml:"no_frida_iterations"`

	ImageSimilarityThreshold float64 `yaml:"image_similarity_threshold"`

	TapCoordinatesPath   string `yaml:"tap_coordinates_path"`
	ImageCropRegionsPath string `yaml:"image_crop_regions_path"`
	SleepTimesPath       string `yaml:"sleep_times_path,omitempty"`

	IptablesScriptUpPath   string `yaml:"iptables_script_up_path"`
	IptablesScriptDownPath string `yaml:"iptables_script_down_path"`

	Android *AndroidConfig `yaml:"android,omitempty"`
	IOS     *IOSConfig     `yaml:"ios,omitempty"`

	// WAN profile only: capture relay next to the IoT cloud uplink.
	RemoteServerSSH       *SSHConfig `yaml:"remote_server_ssh,omitempty"`
	RemoteServerInterface string     `yaml:"remote_server_interface,omitempty"`
}
