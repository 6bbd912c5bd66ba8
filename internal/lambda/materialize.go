package lambda

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"

	"github.com/cespare/xxhash/v2"

	"github.com/freeitw/freeitw/internal/apierr"
	"github.com/freeitw/freeitw/internal/sandboxprovider"
)

const (
	bashShebang = "#!/bin/env bash\n"
	pyShebang   = "#!/bin/env python3\n"
)

// Child is a spawned, already-started process with its three standard
// streams detached for a consumer (the stream multiplexer) to drive.
type Child struct {
	Cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Spawn materializes l into sb and starts it with args, piping all three
// standard streams. The materializer does not wait on the child; that is
// the stream multiplexer's job.
func Spawn(l *Lambda, sb *sandboxprovider.Sandbox, args []string) (*Child, error) {
	script := effectiveScript(l)
	filename := artifactName(script, extensionFor(l.Kind))

	if err := sb.Inject(script, filename); err != nil {
		return nil, apierr.IO(fmt.Errorf("materialize lambda: %w", err))
	}

	launch, err := sb.CommandFor(filename, args)
	if err != nil {
		return nil, apierr.Generic(fmt.Errorf("build launch command: %w", err))
	}

	cmd := exec.Command(launch.Path, launch.Args...)
	cmd.Dir = launch.Dir
	cmd.Env = launch.Env

	child, err := attachPipes(cmd)
	if err != nil {
		return nil, apierr.IO(fmt.Errorf("attach pipes: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, apierr.IO(fmt.Errorf("start child: %w", err))
	}
	return child, nil
}

func attachPipes(cmd *exec.Cmd) (*Child, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	return &Child{Cmd: cmd, Stdin: stdin, Stdout: stdout, Stderr: stderr}, nil
}

// effectiveScript renders the runnable script bytes for l, prepending the
// variant's interpreter shebang unless the payload already supplies one.
//
// For Python, a non-empty Entrypoint is invoked by appending a call to it
// after the module body; the data model treats Entrypoint as an identifier
// for the callable to run, not a separate file.
func effectiveScript(l *Lambda) []byte {
	switch l.Kind {
	case KindPython:
		body := l.PyCode
		if l.Entrypoint != "" {
			body += fmt.Sprintf("\n\n%s()\n", l.Entrypoint)
		}
		return prependShebang([]byte(body), pyShebang)
	default:
		return prependShebang([]byte(l.Script), bashShebang)
	}
}

func prependShebang(script []byte, shebang string) []byte {
	if bytes.HasPrefix(script, []byte("#!")) {
		return script
	}
	out := make([]byte, 0, len(shebang)+len(script))
	out = append(out, shebang...)
	out = append(out, script...)
	return out
}

func extensionFor(k Kind) string {
	if k == KindPython {
		return ".py"
	}
	return ".bash"
}

// artifactName derives a stable filename from the script's content, so
// repeated executions of an unchanged lambda overwrite the same file rather
// than accumulating distinct ones.
func artifactName(script []byte, ext string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64(script), ext)
}
