// Package device provides capture devices for the dictation client.
//
// FFmpeg reads the platform audio input through an ffmpeg child process and
// WAVFile replays a recorded file in real time. Both deliver mono float32
// frames to the capturer callback. The PortAudio device lives in the
// portaudio subpackage because it needs cgo.
package device
