// Package script loads and registers the fixed set of named Lua
// scripts OmniQ's Ops layer invokes against the backing store.
//
// The scripts themselves are an opaque, versioned asset: this package
// only locates, reads, and pre-registers them. Their behavior is
// specified at the call site (see the root package's Ops methods).
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnvScriptsDir is the environment variable that, when set, overrides
// automatic scripts-directory resolution.
const EnvScriptsDir = "OMNIQ_SCRIPTS_DIR"

// Names lists the 15 scripts every Bundle must load.
var Names = []string{
	"enqueue",
	"reserve",
	"heartbeat",
	"ack_success",
	"ack_fail",
	"promote_delayed",
	"reap_expired",
	"pause",
	"resume",
	"retry_failed",
	"retry_failed_batch",
	"remove_job",
	"remove_jobs_batch",
	"childs_init",
	"child_ack",
}

// Entry holds one loaded script's source and its server-assigned SHA.
type Entry struct {
	Name string
	SHA  string
	Src  string
}

// Loader is the subset of a Redis-compatible client Bundle needs to
// register scripts. redis.UniversalClient satisfies it via its
// ScriptLoad method.
type Loader interface {
	ScriptLoad(ctx context.Context, script string) (string, error)
}

// Bundle is the loaded, registered set of named scripts.
type Bundle struct {
	entries map[string]Entry
}

// ResolveDir finds the directory scripts should be loaded from.
//
// Resolution order: the OMNIQ_SCRIPTS_DIR environment variable if
// set; otherwise walk upward from this source file's own directory
// until a go.mod is found, and use "<root>/dist/core/scripts".
// Resolution failure is fatal (returns an error, never a guess).
func ResolveDir() (string, error) {
	if dir := os.Getenv(EnvScriptsDir); dir != "" {
		return dir, nil
	}
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("script: cannot resolve caller location")
	}
	dir := filepath.Dir(thisFile)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "dist", "core", "scripts"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("script: could not locate module root above %s", filepath.Dir(thisFile))
		}
		dir = parent
	}
}

// Load reads every named script from dir, registers it with store via
// ScriptLoad, and returns the assembled Bundle.
//
// Load fails fast: a missing directory or a missing individual script
// file is a configuration error, since a Client cannot safely operate
// with a partial script set.
func Load(ctx context.Context, dir string, store Loader) (*Bundle, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("script: scripts directory %q is not usable: %w", dir, statErr(err))
	}
	entries := make(map[string]Entry, len(Names))
	for _, name := range Names {
		path := filepath.Join(dir, name+".lua")
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("script: missing script file %q: %w", path, err)
		}
		sha, err := store.ScriptLoad(ctx, string(src))
		if err != nil {
			return nil, fmt.Errorf("script: SCRIPT LOAD failed for %q: %w", name, err)
		}
		entries[name] = Entry{Name: name, SHA: sha, Src: string(src)}
	}
	return &Bundle{entries: entries}, nil
}

func statErr(err error) error {
	if err == nil {
		return fmt.Errorf("not a directory")
	}
	return err
}

// Get returns the loaded entry for name, and whether it was found.
func (b *Bundle) Get(name string) (Entry, bool) {
	e, ok := b.entries[name]
	return e, ok
}
