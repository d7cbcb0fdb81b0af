package config

const (
	// TopicIngest is the NSQ topic for raw bookmark batches submitted by a user.
	TopicIngest = "pipeline.ingest"

	// TopicEnrichment is the NSQ topic for per-bookmark metadata fetches.
	TopicEnrichment = "pipeline.enrichment"

	// TopicEmbedding is the NSQ topic for per-bookmark vector generation.
	TopicEmbedding = "pipeline.embedding"

	// TopicClustering is the NSQ topic for per-user clustering runs.
	TopicClustering = "pipeline.clustering"
)

// Topics lists every pipeline topic in stage order.
var Topics = []string{TopicIngest, TopicEnrichment, TopicEmbedding, TopicClustering}
