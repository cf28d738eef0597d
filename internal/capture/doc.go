// Package capture turns live microphone frames into transcription chunks.
//
// A Capturer drops silent frames, buffers voiced ones and flushes the buffer
// once the flush interval has passed since the previous flush, or on Stop.
// Flushed chunks are transcribed one at a time, in flush order, by a single
// worker, so the device callback never waits on the network.
package capture
