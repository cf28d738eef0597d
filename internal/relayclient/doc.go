// Package relayclient posts captured audio chunks to the relay's
// /api/transcribe endpoint and streams the newline-delimited transcript
// fragments back to the caller.
package relayclient
