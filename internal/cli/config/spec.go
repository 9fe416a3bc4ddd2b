package config

// CLIConfig is the configuration for dtnmesh-cli.
type CLIConfig struct {
	DefaultOutput string `yaml:"default_output"` // table, json, yaml

	// CurrentProfile is used when no --profile is given.
	CurrentProfile string `yaml:"current_profile"`

	Profiles map[string]Profile `yaml:"profiles"`
}

// Profile stores how to reach one node.
type Profile struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token,omitempty"`

	// CAFile is trusted for https servers instead of the system roots.
	CAFile string `yaml:"ca_file,omitempty"`

	// CertFile and KeyFile are presented to nodes that require client
	// certificates.
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// DefaultServer is the admin address of a node with default settings.
const DefaultServer = "http://localhost:4550"

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		DefaultOutput:  "table",
		CurrentProfile: "local",
		Profiles: map[string]Profile{
			"local": {Server: DefaultServer},
		},
	}
}

// Profile returns the named profile, or the current one when name is empty.
func (c *CLIConfig) Profile(name string) (Profile, bool) {
	if name == "" {
		name = c.CurrentProfile
	}
	p, ok := c.Profiles[name]
	return p, ok
}
