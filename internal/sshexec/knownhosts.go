package sshexec

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/ssh"
)

// knownHostsStore implements trust-on-first-use host key verification,
// persisted to a known_hosts-style file: one "host keytype base64key" line
// per trusted host.
type knownHostsStore struct {
	mu   sync.Mutex
	path string
	keys map[string]ssh.PublicKey
}

func loadKnownHostsStore(path string) (*knownHostsStore, error) {
	s := &knownHostsStore{path: path, keys: make(map[string]ssh.PublicKey)}
	if path == "" {
		return s, nil
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		host, _, key, _, _, err := ssh.ParseKnownHosts([]byte(line))
		if err != nil {
			continue
		}
		if len(host) > 0 {
			s.keys[host[0]] = key
		}
	}
	return s, scanner.Err()
}

// callback returns an ssh.HostKeyCallback that trusts a host's key on first
// connection and rejects any later connection presenting a different key.
func (s *knownHostsStore) callback(host string) ssh.HostKeyCallback {
	return func(_ string, _ net.Addr, key ssh.PublicKey) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		existing, ok := s.keys[host]
		if ok {
			if !bytesEqual(existing.Marshal(), key.Marshal()) {
				return fmt.Errorf("host key for %q changed since trust-on-first-use: possible MITM", host)
			}
			return nil
		}

		s.keys[host] = key
		return s.appendLocked(host, key)
	}
}

func (s *knownHostsStore) appendLocked(host string, key ssh.PublicKey) error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line := ssh.MarshalAuthorizedKey(key)
	_, err = fmt.Fprintf(f, "%s %s", host, line)
	return err
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
