// Package pathing declares the structured events emitted by the walkability
// cache and the long-distance coordinator.
package pathing

import (
	"context"
	"strconv"

	"longwalk/logging"
)

const (
	// EventRequestAccepted is emitted when a long-distance request replaces any previous one.
	EventRequestAccepted logging.EventType = "pathing.request_accepted"
	// EventRequestRejected is emitted when a request is refused before any work starts.
	EventRequestRejected logging.EventType = "pathing.request_rejected"
	// EventSearchFinished is emitted once the background search produced its tiles.
	EventSearchFinished logging.EventType = "pathing.search_finished"
	// EventSearchFailed is emitted when the background search errored or panicked.
	EventSearchFailed logging.EventType = "pathing.search_failed"
	// EventChunkFailed is emitted each time the short-range walker rejects a batch.
	EventChunkFailed logging.EventType = "pathing.chunk_failed"
	// EventRequestFinished is emitted when a request reaches a terminal state.
	EventRequestFinished logging.EventType = "pathing.request_finished"
	// EventUserMessage mirrors every message printed to the player.
	EventUserMessage logging.EventType = "pathing.user_message"

	EventGenerationProgress logging.EventType = "cache.generation_progress"
	EventGenerationComplete logging.EventType = "cache.generation_complete"
	EventCacheReset         logging.EventType = "cache.reset"
	EventCacheSaved         logging.EventType = "cache.saved"
	EventThrottleAdjusted   logging.EventType = "cache.throttle_adjusted"
)

// RequestActor identifies a long-distance request in event streams.
func RequestActor(id string) logging.EntityRef {
	return logging.EntityRef{ID: id, Kind: logging.EntityKindRequest}
}

// MapActor identifies a map's walkability store in event streams.
func MapActor(mapIndex int) logging.EntityRef {
	return logging.EntityRef{ID: strconv.Itoa(mapIndex), Kind: logging.EntityKindMap}
}

type RequestAcceptedPayload struct {
	FromX    int    `json:"fromX"`
	FromY    int    `json:"fromY"`
	TargetX  int    `json:"targetX"`
	TargetY  int    `json:"targetY"`
	Distance int    `json:"distance"`
	Mode     string `json:"mode"`
}

func RequestAccepted(ctx context.Context, pub logging.Publisher, requestID string, payload RequestAcceptedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventRequestAccepted,
		Actor:    RequestActor(requestID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
		TraceID:  requestID,
	})
}

type RequestRejectedPayload struct {
	TargetX int    `json:"targetX"`
	TargetY int    `json:"targetY"`
	Reason  string `json:"reason"`
}

func RequestRejected(ctx context.Context, pub logging.Publisher, payload RequestRejectedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventRequestRejected,
		Actor:    logging.EntityRef{Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
	})
}

type SearchFinishedPayload struct {
	Outcome        string `json:"outcome"`
	Tiles          int    `json:"tiles"`
	Expanded       int    `json:"expanded"`
	DurationMillis int64  `json:"durationMillis"`
}

func SearchFinished(ctx context.Context, pub logging.Publisher, requestID string, payload SearchFinishedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventSearchFinished,
		Actor:    RequestActor(requestID),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
		TraceID:  requestID,
	})
}

type SearchFailedPayload struct {
	Error string `json:"error"`
}

func SearchFailed(ctx context.Context, pub logging.Publisher, requestID string, payload SearchFailedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventSearchFailed,
		Actor:    RequestActor(requestID),
		Severity: logging.SeverityError,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
		TraceID:  requestID,
	})
}

type ChunkFailedPayload struct {
	BatchSize     int  `json:"batchSize"`
	NextChunkSize int  `json:"nextChunkSize"`
	Reachable     bool `json:"reachable"`
}

func ChunkFailed(ctx context.Context, pub logging.Publisher, requestID string, payload ChunkFailedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventChunkFailed,
		Actor:    RequestActor(requestID),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
		TraceID:  requestID,
	})
}

type RequestFinishedPayload struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func RequestFinished(ctx context.Context, pub logging.Publisher, requestID string, payload RequestFinishedPayload, extra map[string]any) {
	severity := logging.SeverityInfo
	if payload.State == "failed" {
		severity = logging.SeverityWarn
	}
	publish(ctx, pub, logging.Event{
		Type:     EventRequestFinished,
		Actor:    RequestActor(requestID),
		Severity: severity,
		Category: logging.CategoryPathing,
		Payload:  payload,
		Extra:    extra,
		TraceID:  requestID,
	})
}

type UserMessagePayload struct {
	Message string `json:"message"`
}

func UserMessage(ctx context.Context, pub logging.Publisher, message string) {
	publish(ctx, pub, logging.Event{
		Type:     EventUserMessage,
		Actor:    logging.EntityRef{Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPathing,
		Payload:  UserMessagePayload{Message: message},
	})
}

type GenerationProgressPayload struct {
	Current        int     `json:"current"`
	Total          int     `json:"total"`
	Percent        float64 `json:"percent"`
	ChunksPerCycle int     `json:"chunksPerCycle"`
}

func GenerationProgress(ctx context.Context, pub logging.Publisher, mapIndex int, payload GenerationProgressPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventGenerationProgress,
		Actor:    MapActor(mapIndex),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCache,
		Payload:  payload,
		Extra:    extra,
	})
}

type GenerationCompletePayload struct {
	Total int `json:"total"`
}

func GenerationComplete(ctx context.Context, pub logging.Publisher, mapIndex int, payload GenerationCompletePayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventGenerationComplete,
		Actor:    MapActor(mapIndex),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCache,
		Payload:  payload,
		Extra:    extra,
	})
}

type CacheResetPayload struct {
	Reason string `json:"reason"`
}

// CacheReset publishes a warning when a persisted store is discarded and its
// map starts generating from scratch.
func CacheReset(ctx context.Context, pub logging.Publisher, mapIndex int, payload CacheResetPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventCacheReset,
		Actor:    MapActor(mapIndex),
		Severity: logging.SeverityWarn,
		Category: logging.CategoryCache,
		Payload:  payload,
		Extra:    extra,
	})
}

type CacheSavedPayload struct {
	Chunks int    `json:"chunks"`
	Path   string `json:"path"`
}

func CacheSaved(ctx context.Context, pub logging.Publisher, mapIndex int, payload CacheSavedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventCacheSaved,
		Actor:    MapActor(mapIndex),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCache,
		Payload:  payload,
		Extra:    extra,
	})
}

type ThrottleAdjustedPayload struct {
	From          int   `json:"from"`
	To            int   `json:"to"`
	AverageMicros int64 `json:"averageMicros"`
	TargetMicros  int64 `json:"targetMicros"`
}

func ThrottleAdjusted(ctx context.Context, pub logging.Publisher, mapIndex int, payload ThrottleAdjustedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventThrottleAdjusted,
		Actor:    MapActor(mapIndex),
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCache,
		Payload:  payload,
		Extra:    extra,
	})
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, event)
}
