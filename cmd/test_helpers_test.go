package cmd

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// captureOutput redirects stdout and stderr while f runs and returns what
// was written.
func captureOutput(f func()) (stdout, stderr string) {
	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	var bufOut, bufErr bytes.Buffer
	outDone := make(chan struct{})
	errDone := make(chan struct{})
	go func() { io.Copy(&bufOut, rOut); close(outDone) }()
	go func() { io.Copy(&bufErr, rErr); close(errDone) }()

	f()

	wOut.Close()
	wErr.Close()
	<-outDone
	<-errDone
	os.Stdout = oldStdout
	os.Stderr = oldStderr
	rOut.Close()
	rErr.Close()

	return bufOut.String(), bufErr.String()
}

func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

// assertErrorFormat checks for "ffupdaterd: cmd[action]:".
func assertErrorFormat(t *testing.T, output, cmd, action string) {
	t.Helper()
	pattern := "ffupdaterd: " + cmd + "[" + action + "]:"
	if !strings.Contains(output, pattern) {
		t.Errorf("expected error format %q, got:\n%s", pattern, output)
	}
}

// runApp runs the CLI with args after the program name.
func runApp(t *testing.T, args ...string) (stdout, stderr string) {
	t.Helper()
	var err error
	stdout, stderr = captureOutput(func() {
		err = newApp(BuildArgs{Version: "1.2.3", BuildType: "test"}).
			Run(append([]string{"ffupdaterd"}, args...))
	})
	if err != nil {
		t.Fatalf("run %v: %v", args, err)
	}
	return stdout, stderr
}

// writeSettings writes a settings file without tracked apps into a fresh
// directory and returns its path.
func writeSettings(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	data := "background:\n  update_check:\n    enabled: true\napps: []\n" + extra
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}
