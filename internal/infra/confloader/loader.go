package confloader

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "DTNMESH_"

// Loader merges configuration sources into a struct carrying koanf tags.
// Sources apply in this order, each overriding the previous:
//
//  1. the defaults already present in the target struct
//  2. the YAML file, when set
//  3. environment variables under the prefix
//  4. key=value overrides
type Loader struct {
	envPrefix string
	filePath  string
	overrides overrides
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) { l.envPrefix = prefix }
}

// WithConfigFile sets the YAML file to read.
func WithConfigFile(path string) Option {
	return func(l *Loader) { l.filePath = path }
}

// WithOverride sets a single dotted key, as given to `-set key=value`.
func WithOverride(key, value string) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = make(overrides)
		}
		l.overrides[strings.ToLower(key)] = value
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every source and unmarshals the result into target. Fields
// that no source sets keep the value they had, so callers pass a struct
// pre-filled with defaults. Each call starts from a clean slate, which lets
// a watcher call Load again after the file changed.
func (l *Loader) Load(target any) error {
	k, err := l.merge()
	if err != nil {
		return err
	}
	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// Keys lists the dotted keys set by the file, environment and overrides,
// sorted. It is meant for startup diagnostics.
func (l *Loader) Keys() ([]string, error) {
	k, err := l.merge()
	if err != nil {
		return nil, err
	}
	keys := k.Keys()
	sort.Strings(keys)
	return keys, nil
}

func (l *Loader) merge() (*koanf.Koanf, error) {
	k := koanf.New(".")
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if len(l.overrides) > 0 {
		if err := k.Load(l.overrides, nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}
	return k, nil
}

// envKey maps an environment variable name to a config key. A double
// underscore separates levels so that single underscores stay part of the
// key name:
//
//	DTNMESH_STORAGE__DATA_DIR=/srv/dtn -> storage.data_dir
//	DTNMESH_NODE__NUMBER=7             -> node.number
func (l *Loader) envKey(s string) string {
	s = strings.TrimPrefix(s, l.envPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}
