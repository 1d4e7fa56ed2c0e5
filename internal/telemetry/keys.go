package telemetry

// Metric keys shared by the cache and the coordinator.
const (
	KeyChunksGenerated    = "walkable_chunks_generated"
	KeyGenerationBatches  = "walkable_generation_batches"
	KeyChunksPerCycle     = "walkable_chunks_per_cycle"
	KeyOnDemandChecks     = "walkable_on_demand_checks"
	KeyCacheResets        = "walkable_cache_resets"
	KeyStoresSaved        = "walkable_stores_saved"
	KeyRequestsAccepted   = "longdistance_requests_accepted"
	KeyRequestsRejected   = "longdistance_requests_rejected"
	KeyChunkFailures      = "longdistance_chunk_failures"
	KeyWaypointsDelegated = "longdistance_waypoints_delegated"
	KeyRequestsCompleted  = "longdistance_requests_completed"
	KeyRequestsFailed     = "longdistance_requests_failed"
	KeyQueuedTiles        = "longdistance_queued_tiles"
	KeyChunkSize          = "longdistance_chunk_size"
)
