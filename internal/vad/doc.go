// Package vad provides the silence gate used by the capturer.
// A frame is voiced when any sample's magnitude exceeds a configurable threshold.
// This is a cheap peak heuristic, not a speech model.
package vad
