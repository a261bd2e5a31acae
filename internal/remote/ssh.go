// Package remote executes commands and transfers files on the experiment's
// SSH endpoints: the jailbroken iOS phone and, for the wan profile, the
// capture relay host. Failures here are transport errors, recoverable at
// iteration scope.
package remote

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/appcap/appcap/internal/config"
	"github.com/appcap/appcap/internal/logging"
)

// dialTimeout bounds the TCP+handshake phase of every connection.
const dialTimeout = 15 * time.Second

// TransportError wraps an SSH or SFTP failure. The phase engine treats it
// as recoverable at iteration scope.
type TransportError struct {
	Host string
	Op   string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is one authenticated SSH connection. It is not safe for concurrent
// use; the orchestrator is single-threaded per run.
type Client struct {
	host string
	conn *ssh.Client
}

// Dial connects and authenticates against the endpoint described by cfg.
// Host keys are not verified: the endpoints are lab devices reachable only
// from the capture network.
func Dial(cfg config.SSHConfig) (*Client, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, &TransportError{Host: cfg.Host, Op: "read ssh key", Err: err}
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, &TransportError{Host: cfg.Host, Op: "parse ssh key", Err: err}
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	})
	if err != nil {
		return nil, &TransportError{Host: cfg.Host, Op: "connect", Err: err}
	}
	return &Client{host: cfg.Host, conn: conn}, nil
}

// Close tears down the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Exec runs a command on the remote host and returns its exit code, stdout
// and stderr. A nonzero exit code is not an error; only transport failures
// are.
func (c *Client) Exec(cmd string) (int, string, string, error) {
	logging.Debug("ssh exec", "host", c.host, "cmd", cmd)

	session, err := c.conn.NewSession()
	if err != nil {
		return -1, "", "", &TransportError{Host: c.host, Op: "open session", Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	rc := 0
	if err := session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			rc = exitErr.ExitStatus()
		} else {
			return -1, stdout.String(), stderr.String(), &TransportError{Host: c.host, Op: "exec", Err: err}
		}
	}
	logging.Debug("ssh exec finished", "host", c.host, "rc", rc, "stdout_bytes", stdout.Len(), "stderr_bytes", stderr.Len())
	return rc, stdout.String(), stderr.String(), nil
}

// Mkdir creates a directory (and parents) on the remote host.
func (c *Client) Mkdir(path string) error {
	rc, _, stderr, err := c.Exec(fmt.Sprintf("mkdir -p %q", path))
	if err != nil {
		return err
	}
	if rc != 0 {
		return &TransportError{Host: c.host, Op: "mkdir", Err: fmt.Errorf("rc=%d: %s", rc, stderr)}
	}
	return nil
}

// Download copies a remote file to localPath over SFTP and removes the
// remote copy on success, reclaiming, for example, phone storage between
// iterations.
func (c *Client) Download(remotePath, localPath string) error {
	logging.Info("downloading remote file", "host", c.host, "remote", remotePath, "local", localPath)

	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return &TransportError{Host: c.host, Op: "open sftp", Err: err}
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return &TransportError{Host: c.host, Op: "open remote file", Err: err}
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Host: c.host, Op: "create local file", Err: err}
	}
	defer dst.Close()

	if _, err := src.WriteTo(dst); err != nil {
		return &TransportError{Host: c.host, Op: "download", Err: err}
	}
	src.Close()

	if err := client.Remove(remotePath); err != nil {
		logging.Warn("failed to delete remote file after download", "host", c.host, "path", remotePath, "error", err)
	}
	return nil
}

// FetchDir recursively copies a remote directory tree into localDir over
// SFTP. The remote copy is left in place.
func (c *Client) FetchDir(remoteDir, localDir string) error {
	logging.Info("fetching remote directory", "host", c.host, "remote", remoteDir, "local", localDir)

	client, err := sftp.NewClient(c.conn)
	if err != nil {
		return &TransportError{Host: c.host, Op: "open sftp", Err: err}
	}
	defer client.Close()

	return c.fetchDir(client, remoteDir, localDir)
}

func (c *Client) fetchDir(client *sftp.Client, remoteDir, localDir string) error {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localDir, err)
	}

	entries, err := client.ReadDir(remoteDir)
	if err != nil {
		return &TransportError{Host: c.host, Op: "read remote dir", Err: err}
	}
	for _, entry := range entries {
		remotePath := path.Join(remoteDir, entry.Name())
		localPath := filepath.Join(localDir, entry.Name())
		if entry.IsDir() {
			if err := c.fetchDir(client, remotePath, localPath); err != nil {
				return err
			}
			continue
		}
		if err := c.fetchFile(client, remotePath, localPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) fetchFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return &TransportError{Host: c.host, Op: "open remote file", Err: err}
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return &TransportError{Host: c.host, Op: "create local file", Err: err}
	}
	defer dst.Close()

	if _, err := src.WriteTo(dst); err != nil {
		return &TransportError{Host: c.host, Op: "download", Err: err}
	}
	return nil
}
