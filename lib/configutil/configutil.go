package configutil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// EnvBinding maps an environment variable onto a dotted config path, e.g.
// {"DATABASE_URL", "database_url"} or {"SYNC_CRON_HOUR", "cron.hour"}.
// Set variables win over every config file.
type EnvBinding struct {
	Var  string
	Path string
}

// reads a configuration file, `name` should come with a file extension,
// it will automatically be lopped off to produce the other extensions.
// this function will merge the following layers, where higher number is
// more prioritized.
// 1. <name>.<ext>
// 2. <name>.local.<ext>
// 3. bound environment variables
func ReadConfig[T any](name string, env ...EnvBinding) (T, error) {
	var out T
	allNotFound := true

	dirname := filepath.Dir(name)
	basename := filepath.Base(name)
	prefixname, ext := splitExt(basename)

	defaultFile, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(defaultFile) > 0 {
		err = json5.Unmarshal(defaultFile, &out)
		if err != nil {
			return out, err
		}
		allNotFound = false
	}

	localFilepath := filepath.Join(
		dirname,
		fmt.Sprintf("%s.local.%s", prefixname, ext),
	)
	localFile, err := os.ReadFile(localFilepath)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(localFile) > 0 {
		var override T
		err = json5.Unmarshal(localFile, &override)
		if err != nil {
			return out, err
		}
		err = mergo.Merge(&out, override, mergo.WithOverride)
		if err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localFilepath)
		allNotFound = false
	}

	applied, err := applyEnv(&out, env)
	if err != nil {
		return out, err
	}
	if applied {
		allNotFound = false
	}

	if allNotFound {
		return out, os.ErrNotExist
	}

	return out, nil
}

// ReadConfig but it recursively goes up the filesystem until the root
// to find a configuration file matching the name.
func ReadRecursively[T any](name string, env ...EnvBinding) (T, error) {
	var defaultOut T

	root, err := filepath.Abs("/")
	if err != nil {
		return defaultOut, err
	}
	current, err := os.Getwd()
	if err != nil {
		return defaultOut, err
	}

	for current != root {
		config, err := ReadConfig[T](filepath.Join(current, name), env...)
		if os.IsNotExist(err) {
			current = filepath.Join(current, "..")
			continue
		}
		if err != nil {
			return defaultOut, err
		}

		return config, nil
	}

	return defaultOut, os.ErrNotExist
}

// applyEnv overlays set environment variables on top of the file layers.
// Values that parse as json5 numbers or booleans are coerced, everything
// else stays a string.
func applyEnv[T any](out *T, env []EnvBinding) (bool, error) {
	doc := map[string]any{}
	applied := false
	for _, binding := range env {
		raw, ok := os.LookupEnv(binding.Var)
		if !ok {
			continue
		}
		setPath(doc, strings.Split(binding.Path, "."), coerceEnvValue(raw))
		applied = true
	}
	if !applied {
		return false, nil
	}

	buf, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	var override T
	if err := json.Unmarshal(buf, &override); err != nil {
		return false, fmt.Errorf("apply environment overrides: %w", err)
	}
	if err := mergo.Merge(out, override, mergo.WithOverride); err != nil {
		return false, err
	}
	return true, nil
}

func setPath(doc map[string]any, path []string, value any) {
	for _, key := range path[:len(path)-1] {
		child, ok := doc[key].(map[string]any)
		if !ok {
			child = map[string]any{}
			doc[key] = child
		}
		doc = child
	}
	doc[path[len(path)-1]] = value
}

func coerceEnvValue(raw string) any {
	var v any
	if err := json5.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}
