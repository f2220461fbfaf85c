// Package batch turns bursts of rapidly-arriving chat messages into single
// logical turns. Per chat it runs a small state machine driven by typing
// presence and a handful of competing timers, then hands the finished batch
// to the turn processor one annotated message at a time.
package batch

import (
	"time"

	"wabot/internal/bus"
)

// Kind distinguishes the two batching policies.
type Kind string

const (
	KindPersonal Kind = "personal"
	KindGroup    Kind = "group"
)

// Metadata describes a message's place within its batch. It is attached at
// drain time, just before the message is handed to the turn processor.
type Metadata struct {
	BatchID  string
	Kind     Kind
	Position int // 1-based
	Total    int
	IsFirst  bool
	IsLast   bool
	Siblings []string // short summaries of the other messages in the batch
}

// TurnMessage is an inbound message annotated with its batch metadata.
type TurnMessage struct {
	*bus.InboundMessage
	Batch Metadata
}

// phase is the lifecycle of one batch. Absence of a coordinator means Idle.
// Transitions only move forward; a coordinator is discarded after dispatch.
type phase int

const (
	phaseCollecting phase = iota // accepting messages, timers armed
	phaseDraining                // drain committed, grace window open
	phaseDispatching             // snapshot taken, processor owns it
)

// Config holds the timing policy for both chat kinds. Zero values are
// backfilled from DefaultConfig.
type Config struct {
	// Personal chats.
	TypingTimeout  time.Duration // debounce after the peer stops typing
	MaxWait        time.Duration // absolute ceiling from the first message
	MinWait        time.Duration // floor every batch waits before dispatch
	InitialDelay   time.Duration // delay before showing the typing indicator
	TypingFallback time.Duration // dead-man's switch while the peer types
	GraceWindow    time.Duration // post-latch window for in-flight messages

	// Group chats.
	GroupMinWait       time.Duration // quiet period when nobody is typing
	GroupMaxWait       time.Duration // wait while at least one sender types
	GroupTypingTimeout time.Duration // per-sender stopped-typing settle time
	MaxBatchSize       int           // hard cap; reaching it drains at once

	// Both kinds.
	ProcessingDelay time.Duration // pacing between dispatched messages
}

// DefaultConfig returns the stock timing policy.
func DefaultConfig() Config {
	return Config{
		TypingTimeout:  3 * time.Second,
		MaxWait:        20 * time.Second,
		MinWait:        1500 * time.Millisecond,
		InitialDelay:   2 * time.Second,
		TypingFallback: 10 * time.Second,
		GraceWindow:    800 * time.Millisecond,

		GroupMinWait:       4 * time.Second,
		GroupMaxWait:       30 * time.Second,
		GroupTypingTimeout: 5 * time.Second,
		MaxBatchSize:       10,

		ProcessingDelay: 1500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = d.TypingTimeout
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.MinWait <= 0 {
		c.MinWait = d.MinWait
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.TypingFallback <= 0 {
		c.TypingFallback = d.TypingFallback
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.GroupMinWait <= 0 {
		c.GroupMinWait = d.GroupMinWait
	}
	if c.GroupMaxWait <= 0 {
		c.GroupMaxWait = d.GroupMaxWait
	}
	if c.GroupTypingTimeout <= 0 {
		c.GroupTypingTimeout = d.GroupTypingTimeout
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.ProcessingDelay <= 0 {
		c.ProcessingDelay = d.ProcessingDelay
	}
	return c
}

func maxDur(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
