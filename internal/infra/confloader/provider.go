package confloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/maps"
)

// overrides is a koanf provider over "a.b.c=value" pairs given on the
// command line. Keys are dotted paths into the config; values stay strings
// and are converted by koanf's decoder on unmarshal.
type overrides map[string]string

// ParseOverride splits a "key=value" argument. The key is lower-cased.
func ParseOverride(arg string) (key, value string, err error) {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.ToLower(strings.TrimSpace(key))
	if !ok || key == "" {
		return "", "", fmt.Errorf("override %q: want key=value", arg)
	}
	return key, value, nil
}

func (o overrides) ReadBytes() ([]byte, error) {
	return nil, errors.New("confloader: overrides have no byte form")
}

func (o overrides) Read() (map[string]any, error) {
	flat := make(map[string]any, len(o))
	for k, v := range o {
		flat[k] = v
	}
	return maps.Unflatten(flat, "."), nil
}
