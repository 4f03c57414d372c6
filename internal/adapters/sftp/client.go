// Package sftp owns the pooled SFTP sessions used to exchange files with the
// banks. The dialer is an interface so the pool and executor are testable
// without a network.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	gosftp "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
)

// Conn aliases the connection port this adapter implements.
type Conn = portssvc.Connection

// Dialer opens SFTP sessions for a bank endpoint.
type Dialer interface {
	Dial(ctx context.Context, bank domain.BankConfiguration, creds domain.Credentials) (Conn, error)
}

// SSHDialer dials real SSH/SFTP sessions. KnownHostsFile enables strict host
// key checking; leaving it empty accepts any host key and is only acceptable
// in development.
type SSHDialer struct {
	KnownHostsFile string
	ConnectTimeout time.Duration
}

var _ Dialer = (*SSHDialer)(nil)

// Dial opens an SSH connection and an SFTP subsystem session on top of it.
// Authentication uses the private key when the credentials carry one,
// otherwise the password.
func (d *SSHDialer) Dial(ctx context.Context, bank domain.BankConfiguration, creds domain.Credentials) (Conn, error) {
	auth, err := authMethods(creds)
	if err != nil {
		return nil, err
	}
	hostKeys, err := d.hostKeyCallback()
	if err != nil {
		return nil, err
	}
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	cfg := &ssh.ClientConfig{
		User:            creds.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(bank.Host, fmt.Sprintf("%d", bank.Port))
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s for bank %s: %w", addr, bank.BankCode, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with bank %s: %w", bank.BankCode, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)
	sftpClient, err := gosftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("open sftp subsystem for bank %s: %w", bank.BankCode, err)
	}
	return &sftpConn{ssh: sshClient, sftp: sftpClient}, nil
}

func (d *SSHDialer) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if d.KnownHostsFile == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(d.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", d.KnownHostsFile, err)
	}
	return cb, nil
}

// authMethods builds the SSH auth chain: private key (RSA/Ed25519/ECDSA all
// parse through ssh.ParsePrivateKey) preferred, password as fallback.
func authMethods(creds domain.Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if len(creds.PrivateKeyPEM) > 0 {
		signer, err := ssh.ParsePrivateKey(creds.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if creds.Password != "" {
		methods = append(methods, ssh.Password(creds.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("credentials carry neither a private key nor a password")
	}
	return methods, nil
}

type sftpConn struct {
	ssh  *ssh.Client
	sftp *gosftp.Client
}

func (c *sftpConn) WriteFile(path string, data []byte) (int64, error) {
	f, err := c.sftp.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return int64(n), err
}

func (c *sftpConn) ReadFile(path string) ([]byte, error) {
	f, err := c.sftp.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *sftpConn) Rename(oldPath, newPath string) error {
	// PosixRename overwrites the target atomically where the server supports
	// the extension; plain Rename fails on existing targets.
	if err := c.sftp.PosixRename(oldPath, newPath); err == nil {
		return nil
	}
	return c.sftp.Rename(oldPath, newPath)
}

func (c *sftpConn) Remove(path string) error {
	return c.sftp.Remove(path)
}

func (c *sftpConn) Size(path string) (int64, error) {
	info, err := c.sftp.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (c *sftpConn) Keepalive() error {
	_, err := c.sftp.Getwd()
	return err
}

func (c *sftpConn) Close() error {
	serr := c.sftp.Close()
	if err := c.ssh.Close(); err != nil {
		return err
	}
	return serr
}
