package v0

// RenderRequest v0: body of POST /render.
// - compositionId: composition to render, required
// - inputProps: props forwarded to the composition, optional
type RenderRequest struct {
	CompositionID string         `json:"compositionId"`
	InputProps    map[string]any `json:"inputProps,omitempty"`
}
