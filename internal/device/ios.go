package device

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	resty "resty.dev/v3"

	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/proc"
)

// wdaTimeout bounds every WebDriverAgent request except session creation,
// which waits for the app to launch.
const (
	wdaTimeout        = 30 * time.Second
	wdaSessionTimeout = 2 * time.Minute
)

// IOS controls one jailbroken iOS phone. UI automation goes through a
// WebDriverAgent HTTP endpoint; install management uses libimobiledevice
// tooling. The session is owned by the experiment run that created it,
// never shared between runs.
type IOS struct {
	UDID string

	http      *resty.Client
	log       *logging.Logger
	sessionID string
	scale     float64
}

// NewIOS returns a controller speaking to the WebDriverAgent at wdaURL.
func NewIOS(udid, wdaURL string) *IOS {
	return &IOS{
		UDID: udid,
		http: resty.New().SetBaseURL(wdaURL).SetTimeout(wdaTimeout),
		log:  logging.With("phone", udid),
	}
}

type wdaValue struct {
	SessionID string  `json:"sessionId"`
	Scale     float64 `json:"scale"`
	Error     string  `json:"error"`
}

type wdaResponse struct {
	SessionID string   `json:"sessionId"`
	Value     wdaValue `json:"value"`
}

// StartApp creates a WebDriverAgent session for the bundle, launching the
// app in the foreground.
func (p *IOS) StartApp(bundleID string) error {
	if p.sessionID != "" {
		return nil
	}
	p.log.Debug("creating WDA session", "bundle", bundleID)

	var out wdaResponse
	res, err := p.http.R().
		SetTimeout(wdaSessionTimeout).
		SetBody(map[string]any{
			"capabilities": map[string]any{
				"alwaysMatch": map[string]any{"bundleId": bundleID},
			},
		}).
		SetResult(&out).
		Post("/session")
	if err != nil {
		return fmt.Errorf("failed to create WDA session: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("failed to create WDA session: status %d", res.StatusCode())
	}

	p.sessionID = out.SessionID
	if p.sessionID == "" {
		p.sessionID = out.Value.SessionID
	}
	if p.sessionID == "" {
		return fmt.Errorf("WDA returned no session id")
	}
	if err := p.loadScale(); err != nil {
		p.log.Warn("could not read screen scale, assuming 2x", "error", err)
		p.scale = 2
	}
	return nil
}

// StopApp closes the WebDriverAgent session, sending the app to the
// background. Closing an already-closed session is a no-op.
func (p *IOS) StopApp() error {
	if p.sessionID == "" {
		return nil
	}
	res, err := p.http.R().Delete("/session/" + p.sessionID)
	p.sessionID = ""
	if err != nil {
		p.log.Debug("WDA session close ignored", "error", err)
		return nil
	}
	if res.IsError() {
		p.log.Debug("WDA session close ignored", "status", res.StatusCode())
	}
	return nil
}

// loadScale reads the screen's pixel-to-point scale factor. Recorded tap
// coordinates are pixels; WDA taps are points.
func (p *IOS) loadScale() error {
	var out wdaResponse
	res, err := p.http.R().SetResult(&out).Get("/session/" + p.sessionID + "/wda/screen")
	if err != nil {
		return err
	}
	if res.IsError() || out.Value.Scale <= 0 {
		return fmt.Errorf("no scale in WDA screen response")
	}
	// Retina devices report at least 2x.
	if out.Value.Scale < 2 {
		p.scale = 2
	} else {
		p.scale = out.Value.Scale
	}
	return nil
}

// Tap injects one tap at pixel coordinates, converted to points.
func (p *IOS) Tap(x, y int) error {
	if p.sessionID == "" {
		p.log.Warn("tap requested without an active WDA session")
		return fmt.Errorf("no active WDA session")
	}
	px, py := int(float64(x)/p.scale), int(float64(y)/p.scale)
	p.log.Debug("WDA tap", "x", px, "y", py, "pixel_x", x, "pixel_y", y)

	res, err := p.http.R().
		SetBody(map[string]int{"x": px, "y": py}).
		Post("/session/" + p.sessionID + "/wda/tap/0")
	if err != nil {
		return fmt.Errorf("WDA tap failed: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("WDA tap failed: status %d", res.StatusCode())
	}
	return nil
}

// Screenshot captures a PNG screenshot into destPath.
func (p *IOS) Screenshot(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	p.log.Debug("taking screenshot", "dest", destPath)

	var out struct {
		Value string `json:"value"`
	}
	res, err := p.http.R().SetResult(&out).Get("/screenshot")
	if err != nil {
		return fmt.Errorf("WDA screenshot failed: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("WDA screenshot failed: status %d", res.StatusCode())
	}

	png, err := base64.StdEncoding.DecodeString(out.Value)
	if err != nil {
		return fmt.Errorf("WDA screenshot is not valid base64: %w", err)
	}
	return os.WriteFile(destPath, png, 0o644)
}

// Uninstall removes the app via ideviceinstaller.
func (p *IOS) Uninstall(bundleID string) error {
	_, err := proc.Run("ideviceinstaller", []string{"-u", p.UDID, "-U", bundleID},
		proc.RunOptions{Timeout: 2 * time.Minute, CheckExit: true})
	return err
}
