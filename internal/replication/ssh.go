package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultSSHPort  = "22"
	replicationFlag = "--replication"
)

var errNoHostKeyCallback = errors.New("ssh replication requires known_hosts_file or insecure_ignore_host_key")

// SSHTransport runs the rename command of the plugin on replicas. The remote side is expected to
// write nothing to stderr on success.
type SSHTransport struct {
	pluginName    string
	appendFlag    bool
	user          string
	timeout       time.Duration
	socketTimeout time.Duration
	auth          []ssh.AuthMethod
	hostKey       ssh.HostKeyCallback
}

// NewSSHTransport returns a transport authenticating with the identity file and/or password of
// cfg.SSH.
func NewSSHTransport(cfg config.Replication, pluginName string) (*SSHTransport, error) {
	t := &SSHTransport{
		pluginName:    pluginName,
		appendFlag:    cfg.AppendReplicationFlag(),
		user:          cfg.SSH.User,
		timeout:       cfg.SSH.ConnectionTimeout.Duration(),
		socketTimeout: cfg.SSH.SocketTimeout.Duration(),
	}

	if cfg.SSH.IdentityFile != "" {
		key, err := os.ReadFile(cfg.SSH.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("read identity file: %w", err)
		}

		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}

		t.auth = append(t.auth, ssh.PublicKeys(signer))
	}

	if cfg.SSH.Password != "" {
		t.auth = append(t.auth, ssh.Password(cfg.SSH.Password))
	}

	switch {
	case cfg.SSH.KnownHostsFile != "":
		callback, err := knownhosts.New(cfg.SSH.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		t.hostKey = callback
	case cfg.SSH.InsecureIgnoreHostKey:
		t.hostKey = ssh.InsecureIgnoreHostKey()
	default:
		return nil, errNoHostKeyCallback
	}

	return t, nil
}

// Command returns the remote command renaming old to new.
func (t *SSHTransport) Command(old, new models.ProjectName) string {
	command := t.pluginName + " " + old.String() + " " + new.String()
	if t.appendFlag {
		command += " " + replicationFlag
	}
	return command
}

// Rename executes the rename command on the replica. The command has to finish within the socket
// timeout, independently of the cancellation of ctx.
func (t *SSHTransport) Rename(ctx context.Context, target Target, old, new models.ProjectName) error {
	client, err := t.dial(ctx, target)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.socketTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.socketTimeout)
		defer cancel()
	}

	// closing the client aborts a command blocked on the network
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	runErr := session.Run(t.Command(old, new))

	if message := strings.TrimSpace(stderr.String()); message != "" {
		return fmt.Errorf("remote rename failed: %s", message)
	}

	if runErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("remote rename timed out after %s: %w", t.socketTimeout, ctx.Err())
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("run remote rename: %w", runErr)
	}

	return nil
}

func (t *SSHTransport) dial(ctx context.Context, target Target) (*ssh.Client, error) {
	u, err := url.Parse(target.URL)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}

	user := t.user
	if u.User != nil && u.User.Username() != "" {
		user = u.User.Username()
	}

	port := u.Port()
	if port == "" {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(u.Hostname(), port)

	dialer := net.Dialer{Timeout: t.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if t.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set handshake deadline: %w", err)
		}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            t.auth,
		HostKeyCallback: t.hostKey,
		Timeout:         t.timeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
