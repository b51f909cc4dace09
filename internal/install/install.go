// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install pushes compiled policy scripts and service configuration
// files to managed firewalls over SSH.
package install

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/config"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/db"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/events"
	"github.com/soltecsis-jfernandez/fwcloud-api/internal/logging"
)

// RemoteDir is where policy scripts land on the managed firewall.
const RemoteDir = "/etc/fwcloud"

// Target identifies the firewall endpoint an artifact is pushed to.
type Target struct {
	FirewallID int64
	Address    string
	Port       int
}

// dialer abstracts the SSH transport so tests can run without a remote host.
type dialer interface {
	Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (session, error)
}

// session is the subset of *ssh.Session the installer uses.
type session interface {
	Run(cmd string) error
	SetStdin(data []byte)
	Close() error
}

// Installer copies local artifacts to remote firewalls and runs them.
type Installer struct {
	store  *db.Store
	cfg    *config.Config
	logger *logging.Logger
	dial   dialer
}

// New creates an installer using the configured SSH identity.
func New(store *db.Store, cfg *config.Config, logger *logging.Logger) *Installer {
	return &Installer{
		store:  store,
		cfg:    cfg,
		logger: logger.WithComponent("install"),
		dial:   sshDialer{},
	}
}

// TargetFor resolves the SSH endpoint of a firewall. A firewall without an
// address cannot be installed to.
func (i *Installer) TargetFor(ctx context.Context, firewallID int64) (Target, error) {
	var ip sql.NullString
	var port int
	err := i.store.DB().QueryRowContext(ctx,
		`SELECT ip, install_port FROM firewall WHERE id = ?`, firewallID).Scan(&ip, &port)
	if err == sql.ErrNoRows {
		return Target{}, errors.Errorf(errors.KindNotFound, "firewall %d not found", firewallID)
	}
	if err != nil {
		return Target{}, err
	}
	if !ip.Valid || ip.String == "" {
		return Target{}, errors.Errorf(errors.KindValidation,
			"firewall %d has no install address", firewallID)
	}
	return Target{FirewallID: firewallID, Address: ip.String, Port: port}, nil
}

// Install uploads a local file to the firewall's policy directory and makes
// it executable. The remote name is the local file's base name.
func (i *Installer) Install(ctx context.Context, firewallID int64, localPath string, sink events.Sink) error {
	target, err := i.TargetFor(ctx, firewallID)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "read artifact %s", localPath)
	}

	remotePath := path.Join(RemoteDir, path.Base(localPath))
	notify(sink, fmt.Sprintf("Uploading %s to %s:%d\n", path.Base(localPath), target.Address, target.Port))

	clientCfg, err := i.clientConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(target.Address, fmt.Sprintf("%d", target.Port))
	sess, err := i.dial.Dial(ctx, addr, clientCfg)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "connect to firewall %d", firewallID)
	}
	defer sess.Close()

	sess.SetStdin(data)
	cmd := uploadCommand(remotePath)
	if err := sess.Run(cmd); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "upload to firewall %d", firewallID)
	}

	i.logger.Info("artifact installed",
		"firewall", firewallID, "remote", remotePath, "bytes", len(data))
	notify(sink, "Upload finished.\n")
	return nil
}

// Execute runs the installed policy script on the firewall.
func (i *Installer) Execute(ctx context.Context, firewallID int64, scriptName string, sink events.Sink) error {
	target, err := i.TargetFor(ctx, firewallID)
	if err != nil {
		return err
	}

	clientCfg, err := i.clientConfig()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(target.Address, fmt.Sprintf("%d", target.Port))
	sess, err := i.dial.Dial(ctx, addr, clientCfg)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "connect to firewall %d", firewallID)
	}
	defer sess.Close()

	remotePath := path.Join(RemoteDir, path.Base(scriptName))
	notify(sink, fmt.Sprintf("Loading policy on firewall %d\n", firewallID))
	if err := sess.Run(execCommand(remotePath)); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "run policy on firewall %d", firewallID)
	}
	notify(sink, "Policy loaded.\n")
	return nil
}

func (i *Installer) clientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(i.cfg.Install.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "read SSH key")
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "parse SSH key")
	}

	timeout := time.Duration(i.cfg.Install.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User: i.cfg.Install.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
		// Managed firewalls are provisioned by this system; host keys are not
		// tracked yet.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// uploadCommand writes stdin to the remote path with owner-only permissions.
func uploadCommand(remotePath string) string {
	dir := path.Dir(remotePath)
	return fmt.Sprintf("mkdir -p %s && cat > %s && chmod 700 %s", dir, remotePath, remotePath)
}

func execCommand(remotePath string) string {
	return fmt.Sprintf("sh %s", remotePath)
}

func notify(sink events.Sink, message string) {
	if sink != nil {
		sink.Notice(message)
	}
}

// sshDialer is the production transport.
type sshDialer struct{}

func (sshDialer) Dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (session, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}
	return &sshSession{client: client, sess: sess}, nil
}

type sshSession struct {
	client *ssh.Client
	sess   *ssh.Session
	stdin  []byte
}

func (s *sshSession) SetStdin(data []byte) {
	s.stdin = data
}

func (s *sshSession) Run(cmd string) error {
	if s.stdin != nil {
		s.sess.Stdin = bytes.NewReader(s.stdin)
	}
	return s.sess.Run(cmd)
}

func (s *sshSession) Close() error {
	s.sess.Close()
	return s.client.Close()
}
