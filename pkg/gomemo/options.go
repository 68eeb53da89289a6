package gomemo

// AddOptions tunes a single Add call.
type AddOptions struct {
	// Infer toggles fact extraction and reconciliation. Unset means
	// enabled. When disabled, every non-system message is stored
	// verbatim, one record per message.
	Infer *bool

	// Metadata is attached to every record this call creates.
	Metadata map[string]any

	// Contextual folds cached prior turns for the same scope into the
	// extraction input so references across turns resolve.
	Contextual bool

	// Includes narrows extraction to matching topics. Excludes removes
	// topics and wins when both match.
	Includes string
	Excludes string

	// FactPrompt and ReconcilePrompt override the configured prompts for
	// this call only.
	FactPrompt      string
	ReconcilePrompt string
}

// inferEnabled reports whether fact extraction runs for this call.
func (o AddOptions) inferEnabled() bool {
	return o.Infer == nil || *o.Infer
}

// Bool returns a pointer to b, for AddOptions.Infer.
func Bool(b bool) *bool {
	return &b
}
