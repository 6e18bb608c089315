package embeddings

// DefaultModel is used when no model is configured.
const DefaultModel = "BAAI/bge-base-en-v1.5"

// DefaultMaxLength is the tokenizer truncation limit.
const DefaultMaxLength = 512

var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"bert-base-uncased":                      768,
}

// KnownDimension returns the output dimension of a known model.
func KnownDimension(model string) (int, bool) {
	dim, ok := knownDimensions[model]
	return dim, ok
}
