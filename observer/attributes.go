package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for retrieval observability spans and metrics.
var (
	AttrProvider = attribute.Key("llm.provider")
	AttrModel    = attribute.Key("llm.model")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrRetrieveK   = attribute.Key("retrieval.k")
	AttrResultCount = attribute.Key("retrieval.result_count")

	AttrContextLength = attribute.Key("generation.context_length")
)
