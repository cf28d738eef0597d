// Package audio handles sample format conversion and framing for the transcription pipeline.
// It converts float32 samples to little-endian 16-bit PCM, splits PCM into network frames,
// splits sample batches into fixed-size chunks, and reads/writes WAV files.
package audio
