package stream

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/freeitw/freeitw/internal/lambda"
	"github.com/freeitw/freeitw/internal/sandboxprovider"
)

func collect(t *testing.T, ch <-chan Event, timeout time.Duration) ([]byte, bool) {
	t.Helper()
	var buf bytes.Buffer
	errored := false
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return buf.Bytes(), errored
			}
			if ev.Kind == EventError {
				errored = true
				continue
			}
			buf.Write(ev.Data)
		case <-deadline:
			t.Fatalf("timed out waiting for stream to close")
		}
	}
}

func spawnBash(t *testing.T, script string, args []string) *lambda.Child {
	t.Helper()
	dir := t.TempDir()
	sb := sandboxprovider.Host("host", dir)
	l := &lambda.Lambda{Kind: lambda.KindBash, Script: script}
	child, err := lambda.Spawn(l, sb, args)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return child
}

func TestBashEcho(t *testing.T) {
	child := spawnBash(t, "echo hi", nil)
	out, errored := collect(t, Run(context.Background(), child, strings.NewReader(""), false), 5*time.Second)
	if errored {
		t.Fatalf("unexpected error event")
	}
	if string(out) != "hi\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBashStatusSuffix(t *testing.T) {
	child := spawnBash(t, "echo hi", nil)
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader(""), true), 5*time.Second)
	if !strings.HasPrefix(string(out), "hi\n") || !strings.Contains(string(out), "Exit status") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBashWithArgs(t *testing.T) {
	child := spawnBash(t, "echo $1 $2", []string{"alpha", "beta"})
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader(""), false), 5*time.Second)
	if string(out) != "alpha beta\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestStdinPassthrough(t *testing.T) {
	child := spawnBash(t, "cat", nil)
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader("hello\nworld\n"), false), 5*time.Second)
	if string(out) != "hello\nworld\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestMidStreamStderrInterleave(t *testing.T) {
	child := spawnBash(t, "echo out; echo err >&2; echo out2", nil)
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader(""), false), 5*time.Second)
	s := string(out)
	for _, want := range []string{"out", "err", "out2"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q: %q", want, s)
		}
	}
	if strings.Index(s, "out\n") > strings.Index(s, "out2") {
		t.Fatalf("stdout ordering violated: %q", s)
	}
}

func TestLargeBodySpansMultipleReads(t *testing.T) {
	child := spawnBash(t, "cat", nil)
	payload := strings.Repeat("x", readBufSize*3+17)
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader(payload), false), 5*time.Second)
	if string(out) != payload {
		t.Fatalf("body not forwarded exactly: got %d bytes, want %d", len(out), len(payload))
	}
}

func TestChildNeverReadingStdinStillProducesOutput(t *testing.T) {
	child := spawnBash(t, "echo hi", nil)
	out, _ := collect(t, Run(context.Background(), child, strings.NewReader("unread body\n"), false), 5*time.Second)
	if string(out) != "hi\n" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestCancellationKillsChild(t *testing.T) {
	child := spawnBash(t, "sleep 30", nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := Run(ctx, child, strings.NewReader(""), false)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream did not close promptly after cancellation")
		}
	}
}
