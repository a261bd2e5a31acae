// Package intercept starts and stops the TLS-interception proxy and the
// dynamic-instrumentation attaches used during instrumented iterations.
// Each tool logs to its own file pair under the experiment's logs
// directory.
package intercept

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appcap/appcap/internal/proc"
)

// DefaultProxyPort is the transparent-mode listen port on the capture
// server.
const DefaultProxyPort = 8080

// MitmOptions configures one mitmdump run.
type MitmOptions struct {
	OutFile       string // intercepted-traffic dump
	SSLKeyLogFile string // TLS key log, written via SSLKEYLOGFILE
	LogDir        string
	Port          int // defaults to DefaultProxyPort
}

// StartMitmdump starts the interception proxy in transparent mode,
// intercepting all TCP and UDP hosts. The handle is stopped with KillTree;
// mitmdump has no clean remote stop.
func StartMitmdump(opts MitmOptions) (*proc.Handle, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultProxyPort
	}

	args := []string{
		"--mode", "transparent",
		"-p", fmt.Sprint(port),
		"-w", opts.OutFile,
		"--tcp-hosts", ".*",
		"--set", "udp_hosts=.*",
		"--ssl-insecure",
	}

	var env []string
	if opts.SSLKeyLogFile != "" {
		env = append(env, "SSLKEYLOGFILE="+opts.SSLKeyLogFile)
	}
	return startLogged("mitmdump", args, opts.LogDir, "mitm", proc.StartOptions{Env: env})
}

// StartFrida attaches the multiple-unpinning instrumentation script to the
// app, spawning it on the phone. Frida prompts before resuming the spawned
// process, so a confirmation is fed on stdin.
func StartFrida(phoneID, packageName, logDir string) (*proc.Handle, error) {
	args := []string{
		"-D", phoneID,
		"--codeshare", "akabe1/frida-multiple-unpinning",
		"-f", packageName,
	}
	return startLogged("frida", args, logDir, "frida",
		proc.StartOptions{Stdin: strings.NewReader("y\n")})
}

// StartObjection attaches objection to a running iOS app with SSL pinning
// disabled at startup.
func StartObjection(udid, bundleID, logDir string) (*proc.Handle, error) {
	args := []string{
		"-S", udid,
		"-g", bundleID,
		"explore",
		"--startup-command", "ios sslpinning disable",
	}
	return startLogged("objection", args, logDir, "objection", proc.StartOptions{})
}

// startLogged spawns a tool with stdout and stderr appended to
// <logDir>/<name>.log and <logDir>/<name>.err.
func startLogged(bin string, args []string, logDir, name string, opts proc.StartOptions) (*proc.Handle, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	out, err := os.OpenFile(filepath.Join(logDir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s log: %w", name, err)
	}
	errFile, err := os.OpenFile(filepath.Join(logDir, name+".err"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("failed to open %s err log: %w", name, err)
	}
	// Start dups the descriptors; the parent copies are closed either way.
	defer out.Close()
	defer errFile.Close()

	opts.Stdout = out
	opts.Stderr = errFile
	return proc.Start(bin, args, opts)
}
