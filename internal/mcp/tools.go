package mcp

// ToolDefinition models MCP tool metadata.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

var kindValues = []string{"character", "location", "relationship", "item", "event"}

var compressibleTiers = []string{"warm", "cool", "cold", "frozen"}

func toolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "lore_track",
			Description: "Register or replace the canonical payload for a game-state entity.",
			InputSchema: jsonSchema(map[string]any{
				"id":   propString("Stable entity identifier."),
				"kind": propStringEnum("Entity kind.", kindValues),
				"data": map[string]any{
					"description": "Canonical payload: free text or a structured record.",
				},
			}, []string{"id", "kind", "data"}),
		},
		{
			Name:        "lore_access",
			Description: "Record an entity access; re-evaluates its temperature tier and returns the current view.",
			InputSchema: jsonSchema(map[string]any{
				"id":   propString("Stable entity identifier."),
				"kind": propStringEnum("Entity kind.", kindValues),
			}, []string{"id", "kind"}),
		},
		{
			Name:        "lore_compress",
			Description: "Explicitly compress an entity to a colder tier without counting as an access.",
			InputSchema: jsonSchema(map[string]any{
				"id":   propString("Stable entity identifier."),
				"tier": propStringEnum("Target tier.", compressibleTiers),
			}, []string{"id", "tier"}),
		},
		{
			Name:        "lore_expand",
			Description: "Restore an entity's full-fidelity canonical view.",
			InputSchema: jsonSchema(map[string]any{
				"id": propString("Stable entity identifier."),
			}, []string{"id"}),
		},
		{
			Name:        "lore_stats",
			Description: "Report tier distribution, average compression ratio and aggregate token reduction.",
			InputSchema: jsonSchema(map[string]any{}, nil),
		},
	}
}

func jsonSchema(properties map[string]any, required []string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func propString(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func propStringEnum(description string, values []string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}
