package device

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skypro1111/speech-relay/internal/capture"
	"github.com/skypro1111/speech-relay/internal/logging"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func newTestFFmpeg(command string) *FFmpeg {
	d := NewFFmpeg(FFmpegConfig{Command: command}, logging.Discard())
	d.startupGrace = 50 * time.Millisecond
	d.stopTimeout = 500 * time.Millisecond
	return d
}

func TestFFmpegArgs(t *testing.T) {
	d := NewFFmpeg(FFmpegConfig{InputFormat: "alsa", InputDevice: "hw:0"}, logging.Discard())
	args := strings.Join(d.args(capture.DeviceConfig{SampleRate: 16000, Channels: 1}), " ")

	for _, want := range []string{"-f alsa", "-i hw:0", "-ac 1", "-ar 16000", "-f f32le -"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got %q", want, args)
		}
	}
}

func TestFFmpegStreamDeliversFrames(t *testing.T) {
	// 2 frames of 8 float32 zeros
	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nhead -c 64 /dev/zero\nexec sleep 5\n")
	d := newTestFFmpeg(script)

	frames := make(chan int, 4)
	stream, err := d.Open(capture.DeviceConfig{SampleRate: 16000, Channels: 1, FrameSize: 8}, func(frame []float32) {
		frames <- len(frame)
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := stream.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case n := <-frames:
			if n != 8 {
				t.Errorf("Expected 8 samples, got %d", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Frame %d not delivered", i)
		}
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFFmpegStartEarlyExit(t *testing.T) {
	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	d := NewFFmpeg(FFmpegConfig{Command: script}, logging.Discard())

	stream, err := d.Open(capture.DeviceConfig{SampleRate: 16000, Channels: 1, FrameSize: 8}, func([]float32) {})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	err = stream.Start()
	if err == nil {
		t.Fatal("Expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close after failed start returned %v", err)
	}
}

func TestFFmpegOpenErrors(t *testing.T) {
	d := NewFFmpeg(FFmpegConfig{Command: filepath.Join(t.TempDir(), "missing-ffmpeg")}, logging.Discard())
	if _, err := d.Open(capture.DeviceConfig{SampleRate: 16000, Channels: 1, FrameSize: 8}, func([]float32) {}); err == nil {
		t.Error("Expected error for missing binary")
	}

	script := writeScript(t, "ok.sh", "#!/usr/bin/env bash\n")
	d = newTestFFmpeg(script)
	if _, err := d.Open(capture.DeviceConfig{SampleRate: 16000, Channels: 2, FrameSize: 8}, func([]float32) {}); err == nil {
		t.Error("Expected error for stereo capture")
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	// 1.0 and -0.5 in little-endian IEEE 754
	src := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xbf}
	dst := make([]float32, 2)
	decodeFloat32LE(src, dst)

	if dst[0] != 1.0 || dst[1] != -0.5 {
		t.Errorf("Expected [1 -0.5], got %v", dst)
	}
}
