package protocols

import (
	"context"
	"fmt"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"remotefs/config"
)

const (
	ftpKeepaliveInterval = 10 * time.Second
	ftpKeepaliveCountMax = 1
)

type FTPDialer struct {
	prompt    Prompter
	keepalive *Keepalive
	logger    *zap.Logger
}

func NewFTPDialer(prompt Prompter, keepalive *Keepalive, logger *zap.Logger) *FTPDialer {
	if prompt == nil {
		prompt = NoPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FTPDialer{prompt: prompt, keepalive: keepalive, logger: logger}
}

func (d *FTPDialer) Scheme() string { return config.SchemeFTP }

func (d *FTPDialer) Dial(ctx context.Context, remote *config.Remote) (Session, error) {
	r := *remote
	if r.Password == "" {
		pw, ok := d.prompt.PromptForSecret(ctx, "Enter your password")
		if !ok {
			return nil, fmt.Errorf("%w: no password for %s", ErrConfiguration, r.Name)
		}
		r.Password = pw
	}

	// The dial timeout covers the control connection and every passive data
	// connection opened later.
	c, err := ftp.Dial(r.Addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(r.Timeout()),
	)
	if err != nil {
		return nil, err
	}
	if err := c.Login(r.Username, r.Password); err != nil {
		c.Quit()
		return nil, err
	}

	sess := newFTPSession(serverConn{c}, d.logger.With(zap.String("remote", r.Name)))
	if d.keepalive != nil {
		stop := d.keepalive.Register(r.Name, ftpKeepaliveInterval, ftpKeepaliveCountMax,
			sess.noop,
			func() { sess.Close() },
		)
		sess.life.onClose(func() error { stop(); return nil })
	}

	d.logger.Info("FTP session established",
		zap.String("remote", r.Name),
		zap.String("addr", r.Addr()))
	return sess, nil
}
