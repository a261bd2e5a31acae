// Package capture starts and stops the packet captures of an experiment:
// tcpdump on the capture server, PCAPdroid on an Android phone, and tcpdump
// over SSH on a jailbroken iOS phone or a relay host. Long-running captures
// have no universally clean stop command, so they are stopped by signalling
// their whole process group and their output is retrieved afterwards.
package capture

import (
	"github.com/appcap/appcap/internal/proc"
)

// StartTcpdump starts a local tcpdump on the given interface writing full
// packets to outfile. The caller holds the handle and stops the capture with
// KillTree.
func StartTcpdump(iface, outfile string) (*proc.Handle, error) {
	return proc.Start("tcpdump", []string{"-i", iface, "-s", "0", "-w", outfile}, proc.StartOptions{})
}
