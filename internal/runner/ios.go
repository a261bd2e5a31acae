package runner

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/appcap/appcap/internal/capture"
	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/device"
	"github.com/appcap/appcap/internal/experiment"
	"github.com/appcap/appcap/internal/interaction"
	"github.com/appcap/appcap/internal/intercept"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/redirect"
	"github.com/appcap/appcap/internal/remote"
)

// iosProxyPort keeps the iOS proxy off the Android default so both benches
// can share a capture server.
const iosProxyPort = 8082

// phoneTcpdump is the capture invocation on a jailbroken iPhone; tcpdump
// needs root there, granted through doas.
const phoneTcpdump = "doas /usr/bin/tcpdump"

func init() {
	Register(&iosRunner{profile: config.ProfileLAN}, 0)
	Register(&iosRunner{profile: config.ProfileWAN}, 0)
}

// iosRunner drives an iPhone through WebDriverAgent, capturing on the phone
// itself with tcpdump over ssh. The LAN flavour offers a setup-phase
// recording; the WAN flavour adds a relay-host capture.
type iosRunner struct {
	profile config.NetworkProfile
}

func (r *iosRunner) Name() string { return "ios-" + string(r.profile) }

func (r *iosRunner) CanHandle(cfg *config.Config) bool {
	return cfg.Platform == config.PlatformIOS && cfg.NetworkProfile == r.profile
}

func (r *iosRunner) Run(ctx context.Context, ectx *experiment.Context) error {
	cfg := ectx.Config
	phone := device.NewIOS(ectx.PhoneID, cfg.IOS.WDAURL)
	log := logging.With("runner", r.Name())
	scripts := redirect.Scripts{UpPath: cfg.IptablesScriptUpPath, DownPath: cfg.IptablesScriptDownPath}
	wan := r.profile == config.ProfileWAN

	eng := &Engine{
		Ctx: ectx,
		Log: log,

		PreRun: func(context.Context) error {
			if wan {
				interaction.Status("Reminder: turn off bluetooth on the phone")
			} else {
				interaction.Status("Reminder: turn on bluetooth on the phone")
			}
			interaction.Status("Reminder: turn on App Privacy Report in iOS Settings")
			return r.preparePcapDir(cfg)
		},
		Teardown: func() {
			interaction.Status("Reminder: collect contacted domains from the App Privacy Report")
		},

		ApplyRedirect:      scripts.Apply,
		RevertRedirect:     scripts.Revert,
		StartServerCapture: serverCapture(cfg.ServerInterface),
		StartDeviceCapture: func(phase string, i int, name string) (Capture, error) {
			pt := r.phoneCapture(cfg)
			if err := pt.Start(path.Join(cfg.IOS.PhonePcapSavePath, name)); err != nil {
				return nil, err
			}
			return pt, nil
		},

		LaunchApp: func(ctx context.Context, phase string, i int, instrumented bool) ([]Process, error) {
			var procs []Process
			if instrumented {
				mitm, err := startMitm(ectx, i, iosProxyPort)
				if err != nil {
					return procs, err
				}
				procs = append(procs, mitm)
			}
			if err := phone.StartApp(ectx.PackageName); err != nil {
				return procs, err
			}
			if err := sleepFor(ctx, ectx, "start_app", startAppSettle); err != nil {
				return procs, err
			}
			if instrumented {
				// objection attaches to the already-running app.
				obj, err := intercept.StartObjection(ectx.PhoneID, ectx.PackageName, ectx.LogDir())
				if err != nil {
					return procs, err
				}
				procs = append(procs, obj)
			}
			return procs, nil
		},
		StopApp: func() {
			if err := phone.StopApp(); err != nil {
				log.Warn("failed to stop app", "error", err)
			}
		},

		DriveUI: driveUI(ectx, phone, nil),
	}

	if wan {
		eng.StartRelayCapture = relayCapture(cfg)
	} else {
		eng.SetupRecording = func(ctx context.Context) error {
			return r.recordSetup(ctx, ectx, log)
		}
	}
	return eng.Run(ctx)
}

// phoneCapture builds a tcpdump riding the phone's own ssh daemon.
func (r *iosRunner) phoneCapture(cfg *config.Config) *capture.RemoteTcpdump {
	return &capture.RemoteTcpdump{
		SSH:       cfg.IOS.SSH,
		Interface: cfg.PhoneInterface,
		Tcpdump:   phoneTcpdump,
	}
}

// preparePcapDir makes sure the capture directory exists on the phone.
func (r *iosRunner) preparePcapDir(cfg *config.Config) error {
	cli, err := remote.Dial(cfg.IOS.SSH)
	if err != nil {
		return err
	}
	defer cli.Close()
	return cli.Mkdir(cfg.IOS.PhonePcapSavePath)
}

// recordSetup captures the device's one-off onboarding traffic before the
// iteration phases, saving next to the experiment root.
func (r *iosRunner) recordSetup(ctx context.Context, ectx *experiment.Context, log *logging.Logger) error {
	cfg := ectx.Config
	targetDir := filepath.Dir(ectx.Path)
	interaction.Status("Recording setup phase...")

	serverPcap := filepath.Join(targetDir, fmt.Sprintf("setup-server-%s.pcap", ectx.DeviceName))
	server, err := capture.StartTcpdump(cfg.ServerInterface, serverPcap)
	if err != nil {
		return err
	}

	pt := r.phoneCapture(cfg)
	name := fmt.Sprintf("setup-phone-%s.pcap", ectx.DeviceName)
	startErr := pt.Start(path.Join(cfg.IOS.PhonePcapSavePath, name))

	var waitErr error
	if startErr == nil {
		waitErr = interaction.Confirm(ctx, "Finish the device setup")
	}

	server.KillTree()
	if startErr != nil {
		return startErr
	}
	if err := pt.Stop(); err != nil {
		log.Warn("failed to stop setup capture", "error", err)
	}
	if waitErr != nil {
		return waitErr
	}

	if err := pt.Retrieve(filepath.Join(targetDir, name)); err != nil {
		return err
	}
	interaction.Status("Setup phase captured, saved to %s", targetDir)
	return nil
}
