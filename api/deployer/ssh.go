package deployer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"nodeship/api/logging"
	"nodeship/api/model"
)

// SSHDialer opens SSH sessions with key authentication.
type SSHDialer struct {
	Timeout time.Duration
	Log     *zap.Logger
}

func (d *SSHDialer) Dial(ctx context.Context, target model.DeployTarget, keyFile string) (Session, error) {
	pem, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}

	hostKey, err := d.hostKeyCallback(target)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cfg := &ssh.ClientConfig{
		User:            target.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, target.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sshSession{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (d *SSHDialer) hostKeyCallback(target model.DeployTarget) (ssh.HostKeyCallback, error) {
	if target.KnownHostsFile != "" {
		cb, err := knownhosts.New(target.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		return cb, nil
	}
	log := logging.OrNop(d.Log)
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		log.Warn("accepting unverified host key",
			zap.String("host", hostname),
			zap.String("fingerprint", ssh.FingerprintSHA256(key)))
		return nil
	}, nil
}

type sshSession struct {
	client *ssh.Client
}

// Run executes cmd in a new channel. A non-zero exit is reported through the
// exit code, not the error.
func (s *sshSession) Run(ctx context.Context, cmd string) (string, int, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", -1, err
	}
	defer sess.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sess.Signal(ssh.SIGTERM)
			sess.Close()
		case <-done:
		}
	}()

	out, err := sess.CombinedOutput(cmd)
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitStatus(), nil
		}
		if ctx.Err() != nil {
			return string(out), -1, ctx.Err()
		}
		return string(out), -1, err
	}
	return string(out), 0, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
