package api

// ModelList is the OpenAI-compatible GET /v1/models envelope. Entries are kept
// as raw maps because catalog content hashing and conflict detection operate
// on whatever descriptor the upstream advertises.
type ModelList struct {
	Object string                   `json:"object"`
	Data   []map[string]interface{} `json:"data"`
}

// IDs returns the string ids of all well-formed entries in order.
func (l *ModelList) IDs() []string {
	if l == nil {
		return nil
	}
	out := make([]string, 0, len(l.Data))
	for _, m := range l.Data {
		if id, ok := m["id"].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

// NativeTagsResponse is the body of a native GET /api/tags call.
type NativeTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		ModifiedAt string `json:"modified_at,omitempty"`
		Size       int64  `json:"size,omitempty"`
	} `json:"models"`
}
