package anthropic

// BuildCachedSystemBlocks constructs a system block with an ephemeral cache
// breakpoint. Repeated analyses share the same instructions, so later
// requests within the TTL read them from the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
