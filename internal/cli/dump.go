package cli

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/dump"
	"github.com/appcap/appcap/internal/interaction"
)

var (
	dumpPlatform    string
	dumpPackageName string
	dumpOutputDir   string
	dumpPhoneID     string
	dumpSSHHost     string
	dumpSSHPort     int
	dumpSSHUser     string
	dumpSSHKeyPath  string
	dumpSSHPassword string
)

var dumpCmd = &cobra.Command{
	Use:   "dump-app",
	Short: "Dump the app under test as APK (Android) or IPA (iOS)",
	Long: `Extracts the installed app for offline analysis. On Android, pulls every
APK split and writes a permissions.txt. On iOS, copies the decrypted .app
bundle off a jailbroken phone over SSH and packages it as an IPA.

The iOS path needs --ssh-host plus either --ssh-key or a password; omit
both to be prompted with hidden input (or set APPCAP_IOS_SSH_PASSWORD).`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpPlatform, "platform", "f", "", "android or ios (required)")
	dumpCmd.Flags().StringVarP(&dumpPackageName, "package-name", "p", "", "Android package / iOS bundle id (required)")
	dumpCmd.Flags().StringVarP(&dumpOutputDir, "output", "o", "", "directory to store the dump (required)")
	dumpCmd.Flags().StringVarP(&dumpPhoneID, "phone-id", "i", "", "adb serial (Android) or udid (iOS) (required)")
	dumpCmd.Flags().StringVar(&dumpSSHHost, "ssh-host", "", "iOS SSH host")
	dumpCmd.Flags().IntVar(&dumpSSHPort, "ssh-port", 22, "iOS SSH port")
	dumpCmd.Flags().StringVar(&dumpSSHUser, "ssh-user", "mobile", "iOS SSH user")
	dumpCmd.Flags().StringVar(&dumpSSHKeyPath, "ssh-key", "", "iOS SSH private key path")
	dumpCmd.Flags().StringVar(&dumpSSHPassword, "ssh-password", "", "iOS SSH password (or APPCAP_IOS_SSH_PASSWORD)")

	dumpCmd.MarkFlagRequired("platform")
	dumpCmd.MarkFlagRequired("package-name")
	dumpCmd.MarkFlagRequired("output")
	dumpCmd.MarkFlagRequired("phone-id")

	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(dumpOutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(dumpPlatform)) {
	case "android":
		interaction.Status("Pulling APK(s) for %s from %s...", dumpPackageName, dumpPhoneID)
		apkDir, err := dump.Android(dumpPhoneID, dumpPackageName, dumpOutputDir)
		if err != nil {
			return err
		}
		interaction.Status("APK(s) saved to %s", apkDir)
		return nil

	case "ios":
		sshCfg, err := dumpSSHConfig()
		if err != nil {
			return err
		}
		interaction.Status("Dumping IPA for %s from %s...", dumpPackageName, dumpPhoneID)
		ipaPath, err := dump.IOS(dumpPackageName, sshCfg, dumpOutputDir)
		if err != nil {
			return err
		}
		interaction.Status("IPA saved to %s", ipaPath)
		return nil

	default:
		return &codedError{code: 2, err: fmt.Errorf("invalid --platform %q, use android or ios", dumpPlatform)}
	}
}

func dumpSSHConfig() (config.SSHConfig, error) {
	if dumpSSHHost == "" {
		return config.SSHConfig{}, &codedError{code: 2, err: fmt.Errorf("--ssh-host is required for ios")}
	}

	password := dumpSSHPassword
	if password == "" {
		password = os.Getenv("APPCAP_IOS_SSH_PASSWORD")
	}
	if dumpSSHKeyPath == "" && password == "" {
		fmt.Fprint(os.Stderr, "iOS SSH password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return config.SSHConfig{}, fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	return config.SSHConfig{
		Host:     dumpSSHHost,
		Port:     dumpSSHPort,
		Username: dumpSSHUser,
		KeyPath:  dumpSSHKeyPath,
		Password: password,
	}, nil
}
