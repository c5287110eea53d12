package anthropic

// BuildCachedSystemBlocks wraps a static system prompt in a single block with
// a cache breakpoint. Every classification call shares the same prompt, so
// after the first request the prefix is read from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
