package cfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// hostsFileEntry mirrors one host block in an SSH_HOSTS_FILE document.
type hostsFileEntry struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Port     int    `yaml:"port"`
	KeyPath  string `yaml:"key_path"`
	Password string `yaml:"password"`
}

// LoadHostsFile parses a YAML document of the form:
//
//	nexus:
//	  host: 10.0.0.5
//	  user: jarvis
//	  port: 22
//	  key_path: /etc/jarvis/keys/nexus
//
// into a name -> HostCreds map. Used as an alternative to one SSH_<HOST>_*
// env var triple per host for fleets too large to comfortably enumerate
// that way.
func LoadHostsFile(path string) (map[string]HostCreds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ssh hosts file: %w", err)
	}

	var raw map[string]hostsFileEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ssh hosts file: %w", err)
	}

	out := make(map[string]HostCreds, len(raw))
	for name, e := range raw {
		out[name] = HostCreds{
			Host:     e.Host,
			User:     e.User,
			Port:     e.Port,
			KeyPath:  e.KeyPath,
			Password: e.Password,
		}
	}
	return out, nil
}
