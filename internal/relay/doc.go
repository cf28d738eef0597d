// Package relay converts float sample batches to 16-bit PCM, streams them in paced
// frames to a streaming speech recognizer and hands each transcript fragment back
// to the caller as it arrives. A Tracker keeps per-request state for monitoring.
package relay
