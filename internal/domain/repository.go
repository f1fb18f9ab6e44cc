package domain

import "context"

// CatalogClient is the FDC catalog surface the pipeline depends on.
type CatalogClient interface {
	// Search queries /foods/search. dataTypeFilter is a comma-separated
	// FDC data-type list; empty means no filter.
	Search(ctx context.Context, query string, pageSize int, dataTypeFilter string) (*FDCSearchResponse, error)

	// GetFoodDetail fetches the full record for one FDC ID.
	GetFoodDetail(ctx context.Context, fdcID int) (*FDCFoodDetail, error)
}

// ChatClient abstracts the chat-completions transport used by the intent
// generator, the semantic verifier and the nutritional gate.
type ChatClient interface {
	// Complete sends a single-turn prompt and returns the raw text reply.
	// When jsonMode is set the request asks for a JSON-object response;
	// implementations retry once without the format constraint if the
	// backend rejects it.
	Complete(ctx context.Context, system, user string, temperature float32, jsonMode bool) (string, error)
}

// IntentCache persists generated search intents across runs.
type IntentCache interface {
	Get(ingredient string) (*SearchIntent, bool)
	Put(ingredient string, intent *SearchIntent) error
}
