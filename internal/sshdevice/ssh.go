// Package sshdevice implements the device session contract over SSH for
// IOS-XE style network gear: interactive shell, prompt-framed commands,
// enable escalation, and legacy crypto acceptance for old switches.
package sshdevice

import (
	"context"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/netopsworks/upgradeagent"
	"github.com/netopsworks/upgradeagent/internal/config"
)

// Dialer opens device sessions using the configured fleet credentials.
type Dialer struct {
	cfg config.Config
}

// NewDialer validates credentials once up front; every device shares them.
func NewDialer(cfg config.Config) (*Dialer, error) {
	if cfg.Username == "" || cfg.Password == "" || cfg.EnablePassword == "" {
		return nil, errors.New("sshdevice: device credentials are not configured")
	}
	return &Dialer{cfg: cfg}, nil
}

// Dial opens an authenticated, enabled session to the task's device.
// Establishment failure is terminal for the task; the pool does not retry.
func (d *Dialer) Dial(ctx context.Context, task *upgradeagent.Task) (upgradeagent.DeviceSession, error) {
	if strings.TrimSpace(task.IPAddress) == "" {
		return nil, errors.New("sshdevice: task has no IP address")
	}
	s := &session{
		addr:      net.JoinHostPort(task.IPAddress, "22"),
		device:    task.DeviceName,
		clientCfg: clientConfig(d.cfg),
		enable:    d.cfg.EnablePassword,
		cmdPause:  d.cfg.CommandTimeout,
	}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// clientConfig accepts the legacy key exchanges, ciphers and host key
// types still shipped by long-lived access switches.
func clientConfig(cfg config.Config) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		},
		// Fleet devices are reached over the management network; host keys
		// rotate on every RMA and are not pinned.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		HostKeyAlgorithms: []string{
			ssh.KeyAlgoED25519, ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384,
			ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256, ssh.KeyAlgoRSA, ssh.KeyAlgoDSA,
		},
		Config: ssh.Config{
			KeyExchanges: []string{
				"curve25519-sha256", "ecdh-sha2-nistp256",
				"diffie-hellman-group14-sha256", "diffie-hellman-group14-sha1",
				"diffie-hellman-group-exchange-sha1", "diffie-hellman-group1-sha1",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com", "aes128-ctr", "aes192-ctr", "aes256-ctr",
				"aes128-cbc", "3des-cbc",
			},
		},
		Timeout: cfg.DialTimeout,
	}
}

// promptRe matches an exec ("#") or user (">") mode prompt alone on the
// last line of output.
var promptRe = regexp.MustCompile(`(?m)^[\w.\-()/:]+[>#]\s*$`)

type session struct {
	addr      string
	device    string
	clientCfg *ssh.ClientConfig
	enable    string
	cmdPause  time.Duration

	mu     sync.Mutex
	client *ssh.Client
	sess   *ssh.Session
	stdin  io.WriteCloser
	out    chan []byte
	done   chan error
	closed bool
}

// open dials, starts an interactive shell and brings the prompt to enabled
// exec mode with paging off.
func (s *session) open(ctx context.Context) error {
	client, err := ssh.Dial("tcp", s.addr, s.clientCfg)
	if err != nil {
		return errors.Wrapf(err, "dial %s", s.addr)
	}
	if err := s.startShell(client); err != nil {
		client.Close()
		return err
	}
	if err := s.initPrompt(ctx); err != nil {
		s.teardown()
		return err
	}
	return nil
}

func (s *session) startShell(client *ssh.Client) error {
	sess, err := client.NewSession()
	if err != nil {
		return errors.Wrap(err, "open shell session")
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("vt100", 0, 512, modes); err != nil {
		sess.Close()
		return errors.Wrap(err, "request pty")
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return errors.Wrap(err, "open stdin pipe")
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return errors.Wrap(err, "open stdout pipe")
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return errors.Wrap(err, "start shell")
	}

	out := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				out <- chunk
			}
			if err != nil {
				done <- err
				close(out)
				return
			}
		}
	}()

	s.client = client
	s.sess = sess
	s.stdin = stdin
	s.out = out
	s.done = done
	return nil
}

// initPrompt waits for the banner prompt, escalates to enable mode when the
// device lands in user mode, and disables paging.
func (s *session) initPrompt(ctx context.Context) error {
	banner, err := s.readUntilPrompt(ctx, s.cmdPause)
	if err != nil {
		return errors.Wrap(err, "wait for initial prompt")
	}
	if strings.HasSuffix(lastLine(banner), ">") {
		if err := s.escalate(ctx); err != nil {
			return err
		}
	}
	if _, err := s.command(ctx, "terminal length 0", s.cmdPause); err != nil {
		return errors.Wrap(err, "disable paging")
	}
	return nil
}

func (s *session) escalate(ctx context.Context) error {
	if err := s.writeLine("enable"); err != nil {
		return err
	}
	if _, err := s.readUntil(ctx, s.cmdPause, func(out string) bool {
		return strings.Contains(out, "Password")
	}); err != nil {
		return errors.Wrap(err, "wait for enable password prompt")
	}
	if err := s.writeLine(s.enable); err != nil {
		return err
	}
	out, err := s.readUntilPrompt(ctx, s.cmdPause)
	if err != nil {
		return errors.Wrap(err, "wait for enabled prompt")
	}
	if !strings.HasSuffix(lastLine(out), "#") {
		return errors.Wrap(upgradeagent.ErrConnection, "enable escalation rejected")
	}
	return nil
}

// SendCommand runs one exec-mode command, framed by the device prompt.
func (s *session) SendCommand(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return "", errors.Wrap(upgradeagent.ErrUnreachable, "session not open")
	}
	return s.command(ctx, cmd, timeout)
}

func (s *session) command(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	if err := s.writeLine(cmd); err != nil {
		return "", err
	}
	out, err := s.readUntilPrompt(ctx, timeout)
	if err != nil {
		return "", errors.Wrapf(err, "command %q", cmd)
	}
	return stripFrame(out, cmd), nil
}

// SendConfigLines applies config-mode lines in order. A line answered with
// a "%" diagnostic aborts the remainder.
func (s *session) SendConfigLines(ctx context.Context, lines []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return "", errors.Wrap(upgradeagent.ErrUnreachable, "session not open")
	}
	var combined strings.Builder
	if _, err := s.command(ctx, "configure terminal", s.cmdPause); err != nil {
		return "", err
	}
	for _, line := range lines {
		out, err := s.command(ctx, line, s.cmdPause)
		if err != nil {
			return combined.String(), err
		}
		combined.WriteString(out)
		if strings.Contains(out, "% ") {
			_, _ = s.command(ctx, "end", s.cmdPause)
			return combined.String(), errors.Errorf("config line %q rejected: %s", line, strings.TrimSpace(out))
		}
	}
	out, err := s.command(ctx, "end", s.cmdPause)
	combined.WriteString(out)
	return combined.String(), err
}

// WaitReconnect rides out a reload: waits for the device to drop, then
// polls until a fresh authenticated session is accepted or maxWait expires.
// On success the session is re-armed in place.
func (s *session) WaitReconnect(ctx context.Context, maxWait, pollInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown()

	deadline := time.Now().Add(maxWait)

	// Phase 1: wait for the device to actually go down, bounded so a reload
	// that finished before we started polling cannot wedge us.
	downBound := time.Now().Add(minDuration(maxWait/3, 3*time.Minute))
	for time.Now().Before(downBound) {
		if !tcpAlive(s.addr) {
			log.Debug().Str("device", s.device).Msg("device went unreachable for reload")
			break
		}
		if !sleepCtx(ctx, pollInterval) {
			return false
		}
	}

	// Phase 2: poll for a fresh session.
	for time.Now().Before(deadline) {
		if err := s.open(ctx); err == nil {
			log.Info().Str("device", s.device).Msg("device accepted a new session after reload")
			return true
		}
		if !sleepCtx(ctx, pollInterval) {
			return false
		}
	}
	return false
}

// Close releases the shell and transport; safe on every exit path and
// idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.teardown()
	return nil
}

func (s *session) teardown() {
	if s.sess != nil {
		_ = s.sess.Close()
		s.sess = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	s.stdin = nil
}

func (s *session) writeLine(line string) error {
	if s.stdin == nil {
		return errors.Wrap(upgradeagent.ErrUnreachable, "session not open")
	}
	if _, err := s.stdin.Write([]byte(line + "\n")); err != nil {
		return errors.Wrapf(upgradeagent.ErrUnreachable, "write failed: %v", err)
	}
	return nil
}

func (s *session) readUntilPrompt(ctx context.Context, timeout time.Duration) (string, error) {
	return s.readUntil(ctx, timeout, func(out string) bool {
		return promptRe.MatchString(lastLine(out))
	})
}

func (s *session) readUntil(ctx context.Context, timeout time.Duration, done func(string) bool) (string, error) {
	var buf strings.Builder
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return buf.String(), errors.Wrap(upgradeagent.ErrTimeout, "context cancelled")
		case <-timer.C:
			return buf.String(), errors.Wrapf(upgradeagent.ErrTimeout, "no prompt within %s", timeout)
		case err := <-s.done:
			return buf.String(), errors.Wrapf(upgradeagent.ErrUnreachable, "connection dropped: %v", err)
		case chunk, ok := <-s.out:
			if !ok {
				return buf.String(), errors.Wrap(upgradeagent.ErrUnreachable, "output channel closed")
			}
			buf.Write(chunk)
			if done(buf.String()) {
				return buf.String(), nil
			}
		}
	}
}

// stripFrame removes the echoed command and the trailing prompt line.
func stripFrame(out, cmd string) string {
	lines := strings.Split(strings.ReplaceAll(out, "\r\n", "\n"), "\n")
	if len(lines) > 0 && strings.Contains(lines[0], cmd) {
		lines = lines[1:]
	}
	if n := len(lines); n > 0 && promptRe.MatchString(strings.TrimSpace(lines[n-1])) {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}

func lastLine(s string) string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n ")
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return strings.TrimSpace(s)
}

func tcpAlive(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
