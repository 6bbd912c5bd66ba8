// Package bootstrap performs the one-shot, external-to-the-core
// provisioning the execution plane assumes has already happened: the
// sandbox root directory and its host/namespaced subdirectories exist, and
// the host binaries a configuration depends on (bwrap, the lambda
// interpreters) are on PATH.
package bootstrap

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/freeitw/freeitw/internal/config"
)

// HostDirName and NamespacedDirName are the fixed subdirectories created
// under the work dir for the always-present host sandbox and the set of
// configured namespaced sandboxes, respectively.
const (
	HostDirName      = "host"
	NamespacedDirName = "namespaced"
)

// Result summarizes what Run did, for logging at startup.
type Result struct {
	WorkDir          string
	SandboxDirs      []string
	MissingBinaries  []string
}

// Run creates cfg's work directory tree and reports which of
// cfg.RequiredBinaries could not be found on PATH. Missing binaries are not
// a fatal error here: whether that's acceptable depends on which sandboxes
// actually get used, which bootstrap has no visibility into.
func Run(cfg *config.Config) (*Result, error) {
	workDir := cfg.EffectiveWorkDir()
	res := &Result{WorkDir: workDir}

	hostDir := filepath.Join(workDir, HostDirName)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return nil, fmt.Errorf("bootstrap: create host sandbox dir: %w", err)
	}
	res.SandboxDirs = append(res.SandboxDirs, hostDir)

	for name := range cfg.Sandboxes {
		dir := filepath.Join(workDir, NamespacedDirName, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bootstrap: create sandbox dir %s: %w", name, err)
		}
		res.SandboxDirs = append(res.SandboxDirs, dir)
	}

	for _, bin := range cfg.RequiredBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			res.MissingBinaries = append(res.MissingBinaries, bin)
		}
	}
	if len(cfg.Sandboxes) > 0 {
		if _, err := exec.LookPath("bwrap"); err != nil {
			res.MissingBinaries = append(res.MissingBinaries, "bwrap")
		}
	}

	return res, nil
}

// SandboxWorkDir returns the work directory a given sandbox name should use:
// workDir/host for the always-present Host sandbox, workDir/namespaced/<name>
// for everything else.
func SandboxWorkDir(workDir, name string) string {
	if name == "host" {
		return filepath.Join(workDir, HostDirName)
	}
	return filepath.Join(workDir, NamespacedDirName, name)
}
