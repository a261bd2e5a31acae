package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/logging"
	"github.com/appcap/appcap/internal/remote"
)

// RemoteTcpdump runs tcpdump in the background on an SSH endpoint: the
// relay host of the wan profile, or a jailbroken iOS phone. The start
// command echoes the background pid, which is the sole authority for the
// matching stop.
type RemoteTcpdump struct {
	SSH       config.SSHConfig
	Interface string
	// Tcpdump overrides the tcpdump invocation, e.g. "doas /usr/bin/tcpdump"
	// on a jailbroken phone. Empty means plain "tcpdump".
	Tcpdump string

	pid        int
	remotePath string
}

// Start launches the capture writing to remotePath on the remote host and
// records the background pid. SSH's own traffic is excluded from the
// capture.
func (r *RemoteTcpdump) Start(remotePath string) error {
	bin := r.Tcpdump
	if bin == "" {
		bin = "tcpdump"
	}
	cmd := fmt.Sprintf(
		"nohup %s -i %s -s 0 -U -w %q 'not (tcp port 22)' </dev/null >/dev/null 2>&1 & echo $!",
		bin, r.Interface, remotePath,
	)

	client, err := remote.Dial(r.SSH)
	if err != nil {
		return err
	}
	defer client.Close()

	rc, out, stderr, err := client.Exec(cmd)
	if err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("failed to start remote tcpdump: rc=%d err=%s", rc, strings.TrimSpace(stderr))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return fmt.Errorf("unexpected pid output from remote tcpdump: %q", strings.TrimSpace(out))
	}

	r.pid = pid
	r.remotePath = remotePath
	logging.Info("remote tcpdump started", "host", r.SSH.Host, "pid", pid, "iface", r.Interface, "out", remotePath)
	return nil
}

// Stop interrupts the capture so tcpdump flushes and closes its output
// file. Stopping a never-started capture is a no-op.
func (r *RemoteTcpdump) Stop() error {
	if r.pid == 0 {
		return nil
	}
	kill := "kill"
	if r.Tcpdump != "" && strings.HasPrefix(r.Tcpdump, "doas") {
		kill = "doas /bin/kill"
	}

	client, err := remote.Dial(r.SSH)
	if err != nil {
		return err
	}
	defer client.Close()

	if _, _, _, err := client.Exec(fmt.Sprintf("%s -2 %d || true", kill, r.pid)); err != nil {
		return err
	}
	logging.Info("remote tcpdump stopped", "host", r.SSH.Host, "pid", r.pid)
	r.pid = 0
	return nil
}

// Retrieve downloads the capture file to localPath and deletes the remote
// copy.
func (r *RemoteTcpdump) Retrieve(localPath string) error {
	if r.remotePath == "" {
		return fmt.Errorf("no remote capture to retrieve")
	}
	client, err := remote.Dial(r.SSH)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Download(r.remotePath, localPath)
}
