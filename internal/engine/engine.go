// Package engine defines the control-plane boundary to the playout engine
// ("AIR"). The core issues RPCs here and never touches media bytes.
package engine

import (
	"context"
	"errors"
)

// Errors mirroring the engine's success semantics.
var (
	ErrNotStarted = errors.New("channel not started")
	ErrNoPreview  = errors.New("no preview loaded")
)

// StartResult is the StartChannel response.
type StartResult struct {
	Success bool
	Detail  string
}

// PreviewResult is the LoadPreview response.
type PreviewResult struct {
	Success             bool
	ShadowDecodeStarted bool
}

// SwitchResult is the SwitchToLive response.
type SwitchResult struct {
	Success       bool
	PTSContiguous bool
}

// Version is the informational GetVersion response.
type Version struct {
	Build         string
	SchemaVersion uint32
}

// Engine is the control-plane RPC surface of one playout engine.
//
// StartChannel and StopChannel are idempotent. LoadPreview before
// StartChannel for the channel is an error; SwitchToLive with no preview
// loaded is an error. hardStopUTCMS is authoritative: the engine must not
// emit output past it. Preview start lands at-or-before startOffsetMS within
// the seek tolerance, never earlier than startOffsetMS minus the tolerance.
type Engine interface {
	StartChannel(ctx context.Context, channelID, planHandle string, port int) (StartResult, error)
	LoadPreview(ctx context.Context, channelID, assetURI string, startOffsetMS, hardStopUTCMS int64) (PreviewResult, error)
	SwitchToLive(ctx context.Context, channelID string) (SwitchResult, error)
	// UpdatePlan is optional for Phase-0 engines; implementations may return
	// a success no-op.
	UpdatePlan(ctx context.Context, channelID, planHandle string) error
	StopChannel(ctx context.Context, channelID string) error
	GetVersion(ctx context.Context) (Version, error)
}
