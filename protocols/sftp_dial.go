package protocols

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"remotefs/config"
)

const (
	sftpKeepaliveInterval = 30 * time.Second
	sftpKeepaliveCountMax = 2
)

type SFTPDialer struct {
	prompt    Prompter
	keepalive *Keepalive
	logger    *zap.Logger
}

func NewSFTPDialer(prompt Prompter, keepalive *Keepalive, logger *zap.Logger) *SFTPDialer {
	if prompt == nil {
		prompt = NoPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SFTPDialer{prompt: prompt, keepalive: keepalive, logger: logger}
}

func (d *SFTPDialer) Scheme() string { return config.SchemeSFTP }

func (d *SFTPDialer) Dial(ctx context.Context, remote *config.Remote) (Session, error) {
	r := *remote

	var cleanup []func() error
	closeAll := func() {
		for _, fn := range cleanup {
			_ = fn()
		}
	}

	auth, agentConn, err := d.authMethods(ctx, &r)
	if err != nil {
		return nil, err
	}
	if agentConn != nil {
		cleanup = append(cleanup, agentConn.Close)
	}

	hostKey, err := hostKeyCallback(r.KnownHosts)
	if err != nil {
		closeAll()
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            r.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         r.Timeout(),
	}

	dialer := net.Dialer{Timeout: r.Timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", r.Addr())
	if err != nil {
		closeAll()
		return nil, err
	}
	// The handshake is bounded by the same timeout as the TCP connect.
	_ = conn.SetDeadline(time.Now().Add(r.Timeout()))
	c, chans, reqs, err := ssh.NewClientConn(conn, r.Addr(), cfg)
	if err != nil {
		conn.Close()
		closeAll()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		closeAll()
		return nil, err
	}

	sess := NewSFTPSession(client, sshClient, d.logger.With(zap.String("remote", r.Name)))
	for _, fn := range cleanup {
		sess.life.onClose(fn)
	}
	go func() {
		_ = sshClient.Wait()
		sess.Close()
	}()

	if d.keepalive != nil {
		stop := d.keepalive.Register(r.Name, sftpKeepaliveInterval, sftpKeepaliveCountMax,
			func() error {
				_, _, err := sshClient.SendRequest("keepalive@openssh.com", true, nil)
				return err
			},
			func() { sess.Close() },
		)
		sess.life.onClose(func() error { stop(); return nil })
	}

	d.logger.Info("SFTP session established",
		zap.String("remote", r.Name),
		zap.String("addr", r.Addr()))
	return sess, nil
}

// authMethods builds the SSH auth chain, prompting for missing secrets. The
// returned conn is the agent socket, if one was opened.
func (d *SFTPDialer) authMethods(ctx context.Context, r *config.Remote) ([]ssh.AuthMethod, net.Conn, error) {
	if r.Password == "" && r.Agent == "" && r.PrivateKeyPath == "" {
		pw, ok := d.prompt.PromptForSecret(ctx, "Enter your password")
		if !ok {
			return nil, nil, fmt.Errorf("%w: no password for %s", ErrConfiguration, r.Name)
		}
		r.Password = pw
	}
	if r.PromptPassphrase {
		pass, ok := d.prompt.PromptForSecret(ctx, "Enter your passphrase")
		if !ok {
			return nil, nil, fmt.Errorf("%w: no passphrase for %s", ErrConfiguration, r.Name)
		}
		r.Passphrase = pass
	}

	var (
		methods   []ssh.AuthMethod
		agentConn net.Conn
	)

	if r.Agent != "" {
		sock, err := resolveAgent(r.Agent)
		if err != nil {
			return nil, nil, err
		}
		agentConn, err = net.Dial("unix", sock)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reach ssh agent: %w", err)
		}
		methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers))
	}

	if r.PrivateKeyPath != "" {
		signer, err := loadPrivateKey(r.PrivateKeyPath, r.Passphrase)
		if err != nil {
			if agentConn != nil {
				agentConn.Close()
			}
			return nil, nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if r.Password != "" {
		methods = append(methods, ssh.Password(r.Password))
		if r.InteractiveAuth {
			password := r.Password
			methods = append(methods, ssh.KeyboardInteractive(
				func(_, _ string, questions []string, _ []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = password
					}
					return answers, nil
				}))
		}
	}
	return methods, agentConn, nil
}

// resolveAgent expands an agent reference of the form $NAME from the
// environment.
func resolveAgent(ref string) (string, error) {
	if !strings.HasPrefix(ref, "$") {
		return ref, nil
	}
	name := strings.TrimPrefix(ref, "$")
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrConfiguration, name)
	}
	return v, nil
}

func loadPrivateKey(keyPath, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(expandHome(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: private key %s: %v", ErrConfiguration, keyPath, err)
	}
	return signer, nil
}

func hostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(expandHome(knownHostsPath))
	if err != nil {
		return nil, fmt.Errorf("%w: known_hosts: %v", ErrConfiguration, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
