package capture

import (
	"path"

	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/logging"
)

// PCAPdroid captures on-phone traffic of one Android app through the
// PCAPdroid capture-control activity. One value handles one capture at a
// time: Start, Stop, then Retrieve the dump from the phone.
type PCAPdroid struct {
	Phone       *device.Android
	PackageName string
	Interface   string
	APIKey      string
	// DownloadDir is where PCAPdroid writes dumps on the phone.
	DownloadDir string

	dumpName string
}

// Start begins a capture writing to dumpName in the phone's download
// directory.
func (c *PCAPdroid) Start(dumpName string) error {
	c.dumpName = dumpName
	return c.Phone.StartPCAPdroid(c.PackageName, dumpName, c.Interface, c.APIKey)
}

// Stop ends the running capture.
func (c *PCAPdroid) Stop() error {
	return c.Phone.StopPCAPdroid(c.APIKey)
}

// Retrieve pulls the dump to destPath and deletes the phone-side copy.
func (c *PCAPdroid) Retrieve(destPath string) error {
	phonePath := path.Join(c.DownloadDir, c.dumpName)
	if err := c.Phone.Pull(phonePath, destPath); err != nil {
		return err
	}
	if err := c.Phone.Delete(phonePath); err != nil {
		logging.Warn("could not delete capture from phone", "path", phonePath, "error", err)
	}
	return nil
}
