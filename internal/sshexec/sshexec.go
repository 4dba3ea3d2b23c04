// Package sshexec is the remote command executor: a pooled SSH client
// per host with trust-on-first-use host key verification, a fixed connect
// retry schedule, and a local fast path for the pseudo-host "self".
package sshexec

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/linnemanlabs/jarvis/internal/cfg"
	"github.com/linnemanlabs/jarvis/internal/jerr"
	"github.com/linnemanlabs/jarvis/internal/log"
	"github.com/linnemanlabs/jarvis/internal/metrics"
)

// SelfHost is the pseudo-host that executes commands on the local machine
// instead of dialing out over SSH.
const SelfHost = "self"

const (
	defaultCommandTimeout = 60 * time.Second
	connectTimeout        = 10 * time.Second
	maxRetries            = 3
)

var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Result is the outcome of one command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// Executor runs shell commands against named hosts over pooled SSH
// connections, plus locally for SelfHost.
type Executor struct {
	mu    sync.Mutex
	conns map[string]*ssh.Client

	creds          map[string]cfg.HostCreds
	defaultKeyPath string
	knownHosts     *knownHostsStore

	logger  log.Logger
	metrics *metrics.Metrics
}

// New creates an Executor. creds maps lowercased host name to credentials;
// defaultKeyPath is used for hosts that don't specify their own KeyPath.
// knownHostsPath persists trust-on-first-use host keys across restarts.
func New(creds map[string]cfg.HostCreds, defaultKeyPath, knownHostsPath string, logger log.Logger, m *metrics.Metrics) (*Executor, error) {
	kh, err := loadKnownHostsStore(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return &Executor{
		conns:          make(map[string]*ssh.Client),
		creds:          creds,
		defaultKeyPath: defaultKeyPath,
		knownHosts:     kh,
		logger:         logger,
		metrics:        m,
	}, nil
}

// Execute runs command on host and returns its outcome. A zero timeout uses
// the 60s default. Connection-layer errors are retried per a fixed 2s/4s/8s
// schedule (up to 3 retries); a non-zero command exit is not an error.
func (e *Executor) Execute(ctx context.Context, host, command string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	if host == SelfHost {
		return e.executeLocal(ctx, command, timeout)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			e.discardConnection(host)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", jerr.SSHConnectError, ctx.Err())
			case <-time.After(retryDelays[attempt-1]):
			}
		}

		client, err := e.getConnection(ctx, host)
		if err != nil {
			lastErr = err
			e.reportConnect(host, false)
			continue
		}
		e.reportConnect(host, true)

		res, err := e.executeOnce(ctx, client, command, timeout)
		if err == nil {
			return res, nil
		}
		if !isConnLayerError(err) {
			return nil, err
		}
		lastErr = err
		e.discardConnection(host)
	}

	return nil, fmt.Errorf("%w: %v", jerr.SSHConnectError, lastErr)
}

func (e *Executor) reportConnect(host string, ok bool) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	e.metrics.SSHConnectsTotal.WithLabelValues(host, outcome).Inc()
}

// executeLocal runs command through bash on the local machine.
func (e *Executor) executeLocal(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return &Result{Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: true, ExitCode: -1}, nil
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return nil, fmt.Errorf("run local command: %w", err)
	}

	return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
}

// executeOnce runs command over an established SSH session, base64-encoding
// it to sidestep shell-quoting issues, honoring timeout via a select against
// ctx and a completion channel.
func (e *Executor) executeOnce(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (*Result, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("%w: new session: %v", jerr.SSHConnectError, err)
	}
	defer session.Close()

	encoded := base64.StdEncoding.EncodeToString([]byte(command))
	wrapped := fmt.Sprintf("echo %s | base64 -d | bash", encoded)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(wrapped) }()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, fmt.Errorf("%w: %v", jerr.SSHConnectError, ctx.Err())
	case <-time.After(timeout):
		session.Close()
		e.logger.Warn(ctx, "command_timeout", "timeout_s", timeout.Seconds())
		return &Result{Stdout: stdout.String(), Stderr: stderr.String(), TimedOut: true, ExitCode: -1}, nil
	case err := <-done:
		if err == nil {
			return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitStatus()}, nil
		}
		return nil, fmt.Errorf("%w: %v", jerr.SSHConnectError, err)
	}
}

// getConnection returns the pooled client for host, probing it with a
// trivial session open and reconnecting if it is stale.
func (e *Executor) getConnection(ctx context.Context, host string) (*ssh.Client, error) {
	e.mu.Lock()
	client, ok := e.conns[host]
	e.mu.Unlock()

	if ok {
		if sess, err := client.NewSession(); err == nil {
			sess.Close()
			return client, nil
		}
		e.discardConnection(host)
	}

	client, err := e.dial(ctx, host)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.conns[host] = client
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.SSHConnectionsOpen.Set(float64(len(e.conns)))
	}
	return client, nil
}

func (e *Executor) discardConnection(host string) {
	e.mu.Lock()
	client, ok := e.conns[host]
	delete(e.conns, host)
	n := len(e.conns)
	e.mu.Unlock()
	if ok {
		client.Close()
	}
	if e.metrics != nil {
		e.metrics.SSHConnectionsOpen.Set(float64(n))
	}
}

func (e *Executor) dial(ctx context.Context, host string) (*ssh.Client, error) {
	creds, ok := e.creds[host]
	if !ok {
		return nil, fmt.Errorf("%w: no credentials configured for host %q", jerr.SSHConnectError, host)
	}

	sshCfg, err := e.buildClientConfig(host, creds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", jerr.SSHConnectError, err)
	}

	addr := creds.Host
	port := creds.Port
	if port == 0 {
		port = 22
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", addr, port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", jerr.SSHConnectError, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, fmt.Sprintf("%s:%d", addr, port), sshCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake: %v", jerr.SSHConnectError, err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (e *Executor) buildClientConfig(host string, creds cfg.HostCreds) (*ssh.ClientConfig, error) {
	auth, err := authMethods(creds, e.defaultKeyPath)
	if err != nil {
		return nil, err
	}
	return &ssh.ClientConfig{
		User:            creds.User,
		Auth:            auth,
		HostKeyCallback: e.knownHosts.callback(host),
		Timeout:         connectTimeout,
	}, nil
}

func authMethods(creds cfg.HostCreds, defaultKeyPath string) ([]ssh.AuthMethod, error) {
	keyPath := creds.KeyPath
	if keyPath == "" {
		keyPath = defaultKeyPath
	}
	if keyPath != "" {
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key %s: %w", keyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key %s: %w", keyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if creds.Password != "" {
		return []ssh.AuthMethod{ssh.Password(creds.Password)}, nil
	}
	return nil, fmt.Errorf("no key path or password configured for host %q", creds.Host)
}

// isConnLayerError reports whether err indicates the connection itself
// failed (dial, handshake, session creation), as opposed to a command that
// merely exited non-zero.
func isConnLayerError(err error) bool {
	return errors.Is(err, jerr.SSHConnectError)
}

// Close shuts down every pooled connection.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for host, c := range e.conns {
		c.Close()
		delete(e.conns, host)
	}
}
