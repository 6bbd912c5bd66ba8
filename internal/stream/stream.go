// Package stream implements the stream multiplexer: the component that
// drives a child process's three pipes and its reaper concurrently,
// translating them into a single ordered byte stream for an HTTP response.
//
// The source this is grounded on expresses the four event sources (request
// body, stdout, stderr, child wait) as branches of a single-threaded
// tokio::select! loop. Go has no direct equivalent of select! over
// heterogeneous async reads, so each source gets its own goroutine; all four
// funnel into one shared, bounded channel that the HTTP handler then drains.
// The effect observed by a caller -- non-deterministic interleaving of
// chunks, a final status chunk, prompt teardown on disconnect -- is the
// same either way.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/freeitw/freeitw/internal/lambda"
)

// readBufSize is the fixed per-pipe read buffer size. It bounds
// per-iteration latency and memory; it is not a correctness parameter.
const readBufSize = 128

// EventKind discriminates the two Event variants delivered on the output
// channel.
type EventKind int

const (
	EventChunk EventKind = iota
	EventError
)

// Event is one unit on the multiplexer's output channel.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
}

// Run starts the multiplexer for child, consuming body as the child's
// standard input and producing a channel of Events representing the
// child's combined stdout/stderr, in arrival order, optionally followed by
// a final status chunk.
//
// Run returns immediately; all work happens in goroutines it spawns. The
// returned channel is closed once the child has exited and its output
// pipes have drained. If ctx is cancelled before that (the HTTP client
// disconnected), the child is killed and the channel is closed promptly
// rather than left to run to completion.
func Run(ctx context.Context, child *lambda.Child, body io.Reader, printStatus bool) <-chan Event {
	out := make(chan Event, 4)

	stdoutDone := make(chan struct{})
	stderrDone := make(chan struct{})

	send := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Cancellation: kill the child as soon as the consumer goes away,
	// regardless of whether a send is in flight at that moment. This is
	// the resolution of the "channel closed" open question: treat it as
	// cancellation, not a condition to panic on. The read ends of the
	// output pipes are closed as well, so the pumps return even if a
	// process the child started still holds the write ends open.
	go func() {
		<-ctx.Done()
		if child.Cmd.Process != nil {
			_ = child.Cmd.Process.Kill()
		}
		_ = child.Stdout.Close()
		_ = child.Stderr.Close()
	}()

	go pumpReader(child.Stdout, stdoutDone, send)
	go pumpReader(child.Stderr, stderrDone, send)
	go pumpBody(body, child.Stdin, send)
	go waitAndClose(child, stdoutDone, stderrDone, printStatus, send, out)

	return out
}

// pumpReader is the E2/E3 source: read from r in readBufSize chunks,
// forwarding each non-empty read as a Chunk event until EOF or error. EOF is
// not itself an event; the child reaper is authoritative for termination.
func pumpReader(r io.Reader, done chan<- struct{}, send func(Event) bool) {
	defer close(done)
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !send(Event{Kind: EventChunk, Data: chunk}) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				send(Event{Kind: EventError, Err: err})
			}
			return
		}
	}
}

// pumpBody is the E1 source: relay the request body into the child's
// stdin. Once the body reaches EOF, or any write to stdin fails, the stdin
// pipe is dropped (closed) so the child observes EOF on its own standard
// input; this is the Running{stdin: Some} -> Running{stdin: None}
// transition. Neither event surfaces as an error to the client.
func pumpBody(body io.Reader, stdin io.WriteCloser, send func(Event) bool) {
	buf := make([]byte, readBufSize)
	open := true
	closeStdin := func() {
		if open {
			stdin.Close()
			open = false
		}
	}
	defer closeStdin()

	for {
		n, err := body.Read(buf)
		if n > 0 && open {
			if _, werr := stdin.Write(buf[:n]); werr != nil {
				closeStdin()
			}
		}
		if err != nil {
			if err != io.EOF {
				send(Event{Kind: EventError, Err: err})
			}
			return
		}
	}
}

// waitAndClose is the E4 source: wait for the stdout/stderr pumps to finish
// draining their pipes, then reap the child, then -- once both are settled
// -- emit the optional status chunk and close the output channel.
//
// Draining must happen before Wait: StdoutPipe/StderrPipe document that it
// is incorrect to call Wait before all reads from the pipe have completed,
// since Wait closes the underlying pipe descriptors as soon as the process
// is reaped, racing any in-flight Read in the pump goroutines and risking
// truncated output or a spurious "file already closed" error on a
// short-lived child.
func waitAndClose(child *lambda.Child, stdoutDone, stderrDone <-chan struct{}, printStatus bool, send func(Event) bool, out chan Event) {
	<-stdoutDone
	<-stderrDone

	waitErr := child.Cmd.Wait()
	child.Stdin.Close() // idempotent: ensures stdin is gone even if pumpBody never saw EOF

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			// A genuine I/O failure waiting on the child, as opposed to
			// the expected "exited with non-zero status" case.
			send(Event{Kind: EventError, Err: waitErr})
			close(out)
			return
		}
	}
	if printStatus {
		send(Event{Kind: EventChunk, Data: []byte(fmt.Sprintf("Exit status %s", child.Cmd.ProcessState))})
	}
	close(out)
}
