// Package sandboxprovider implements the Sandbox variants a lambda can be
// executed under: an unconfined Host sandbox and a bubblewrap-namespaced
// sandbox. Sandbox is modeled as a single struct with a Kind discriminant
// rather than an interface, since the set of variants is closed and their
// behavior differs only in how CommandFor builds argv.
package sandboxprovider

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Kind discriminates the two Sandbox variants.
type Kind int

const (
	// KindHost runs the materialized script directly, with no isolation.
	KindHost Kind = iota
	// KindNamespaced runs the materialized script under bubblewrap.
	KindNamespaced
)

func (k Kind) String() string {
	switch k {
	case KindHost:
		return "host"
	case KindNamespaced:
		return "namespaced"
	default:
		return "unknown"
	}
}

// AWSCredentials configures how a Namespaced sandbox delivers AWS
// credentials to the child: via an IMDSv2-compatible endpoint reachable at
// Endpoint, with the real ~/.aws and ~/.ssh hidden from the child.
type AWSCredentials struct {
	Endpoint string
}

// Sandbox is a named execution environment. WorkDir is the directory a
// lambda's materialized script is injected into before every execution.
type Sandbox struct {
	Name    string
	Kind    Kind
	WorkDir string

	// IsolationFlags are additional bwrap arguments appended after the
	// default isolation flags. Only meaningful for KindNamespaced.
	IsolationFlags []string

	// AWS configures IMDS-mode credential delivery for KindNamespaced
	// sandboxes. Nil means no IMDS endpoint is set and ~/.aws and ~/.ssh
	// are not hidden; the child gets the server's environment unchanged.
	AWS *AWSCredentials
}

// Host returns a new unconfined Host sandbox rooted at workDir.
func Host(name, workDir string) *Sandbox {
	return &Sandbox{Name: name, Kind: KindHost, WorkDir: workDir}
}

// Namespaced returns a new bubblewrap-isolated sandbox rooted at workDir.
func Namespaced(name, workDir string, isolationFlags []string, aws *AWSCredentials) *Sandbox {
	return &Sandbox{Name: name, Kind: KindNamespaced, WorkDir: workDir, IsolationFlags: isolationFlags, AWS: aws}
}

// Inject writes content into this sandbox's working directory under
// filename with mode 0o755, atomically and idempotently: re-injecting the
// same content under the same filename is a no-op write, not an error.
func (s *Sandbox) Inject(content []byte, filename string) error {
	if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
		return fmt.Errorf("sandbox %s: create work dir: %w", s.Name, err)
	}

	target := filepath.Join(s.WorkDir, filename)
	tmp, err := os.CreateTemp(s.WorkDir, ".inject-*")
	if err != nil {
		return fmt.Errorf("sandbox %s: create staging file: %w", s.Name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("sandbox %s: write staging file: %w", s.Name, err)
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return fmt.Errorf("sandbox %s: chmod staging file: %w", s.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sandbox %s: close staging file: %w", s.Name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("sandbox %s: rename into place: %w", s.Name, err)
	}
	return nil
}

// Launch describes how to start a materialized script's child process.
type Launch struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// CommandFor builds the Launch descriptor for running filename (already
// injected via Inject) with args inside this sandbox.
func (s *Sandbox) CommandFor(filename string, args []string) (*Launch, error) {
	switch s.Kind {
	case KindHost:
		return &Launch{
			Path: filepath.Join(s.WorkDir, filename),
			Args: append([]string{}, args...),
			Dir:  s.WorkDir,
			Env:  os.Environ(),
		}, nil
	case KindNamespaced:
		return s.namespacedCommand(filename, args)
	default:
		return nil, fmt.Errorf("sandbox %s: unknown kind %d", s.Name, s.Kind)
	}
}

// namespacedCommand builds `bwrap --bind <wd> /wd <isolation flags> -- /wd/<filename> <args>`,
// plus any AWS credential-delivery wiring.
func (s *Sandbox) namespacedCommand(filename string, args []string) (*Launch, error) {
	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		return nil, fmt.Errorf("sandbox %s: bwrap not found on PATH: %w", s.Name, err)
	}

	argv := []string{"--bind", s.WorkDir, "/wd"}
	argv = append(argv, defaultIsolationFlags()...)
	argv = append(argv, s.IsolationFlags...)

	env := os.Environ()
	if s.AWS != nil && s.AWS.Endpoint != "" {
		for _, p := range credentialPathsToBlock() {
			argv = append(argv, "--tmpfs", p)
		}
		env = append(env, "AWS_EC2_METADATA_SERVICE_ENDPOINT="+s.AWS.Endpoint)
	}

	argv = append(argv, "--")
	argv = append(argv, "/wd/"+filename)
	argv = append(argv, args...)

	return &Launch{Path: bwrapPath, Args: argv, Dir: "", Env: env}, nil
}

// defaultIsolationFlags are the bwrap flags applied to every Namespaced
// sandbox before the operator's own IsolationFlags, matching the shape the
// teacher's worker pool used to start its own sandboxed children.
func defaultIsolationFlags() []string {
	return []string{
		"--proc", "/proc",
		"--dev", "/dev",
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
	}
}

// credentialPathsToBlock returns the real paths to hide from a namespaced
// child when AWS credentials are delivered via IMDS instead.
func credentialPathsToBlock() []string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}
	return []string{
		filepath.Join(home, ".aws"),
		filepath.Join(home, ".ssh"),
	}
}
