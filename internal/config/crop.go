package config

import (
	"encoding/json"
	"os"

	"github.com/appcap/appcap/internal/logging"
)

// CropRegion is a rectangular sub-region of a screenshot, in pixels.
type CropRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region describes a usable rectangle.
func (r CropRegion) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0
}

// LoadCropRegions reads the crop-regions JSON file and returns the per-tap
// region list for deviceName. The expected schema is
//
//	{ "<device_name>": [ {"x":0,"y":0,"width":100,"height":100}, ... ] }
//
// A missing file, missing device entry or invalid region list is never
// fatal: the problem is logged and nil is returned, meaning full-image
// comparison.
func LoadCropRegions(path, deviceName string) []CropRegion {
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Info("image crop regions file not readable", "path", path, "error", err)
		return nil
	}

	var all map[string][]CropRegion
	if err := json.Unmarshal(data, &all); err != nil {
		logging.Warn("invalid image crop regions JSON", "path", path, "error", err)
		return nil
	}

	regions, ok := all[deviceName]
	if !ok {
		logging.Warn("no crop regions for device", "device", deviceName, "path", path)
		return nil
	}
	for i, r := range regions {
		if !r.Valid() {
			logging.Warn("invalid crop region, ignoring device entry", "device", deviceName, "index", i+1)
			return nil
		}
	}
	logging.Debug("loaded crop regions", "device", deviceName, "count", len(regions))
	return regions
}
