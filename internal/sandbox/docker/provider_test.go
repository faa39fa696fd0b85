package docker

import (
	"bytes"
	"testing"
)

func frame(stream byte, payload string) []byte {
	n := len(payload)
	header := []byte{stream, 0, 0, 0, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return append(header, payload...)
}

func TestDemuxStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(1, "out line 1\n"))
	buf.Write(frame(2, "err line 1\n"))
	buf.Write(frame(1, "out line 2\n"))

	stdout, stderr, err := demuxStream(&buf)
	if err != nil {
		t.Fatalf("demuxStream failed: %v", err)
	}
	if stdout != "out line 1\nout line 2\n" {
		t.Errorf("stdout: %q", stdout)
	}
	if stderr != "err line 1\n" {
		t.Errorf("stderr: %q", stderr)
	}
}

func TestDemuxStreamEmpty(t *testing.T) {
	stdout, stderr, err := demuxStream(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("demuxStream failed: %v", err)
	}
	if stdout != "" || stderr != "" {
		t.Errorf("Expected empty output, got %q / %q", stdout, stderr)
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/user/app", "'/home/user/app'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContainerName(t *testing.T) {
	if got := containerName("abc123"); got != "drydock-sb-abc123" {
		t.Errorf("containerName: %q", got)
	}
}
