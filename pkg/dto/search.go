package dto

// SearchForm is the multipart form of POST /v1/search. Exactly one of the
// "image" or "audio" file fields is expected alongside it.
type SearchForm struct {
	Scope     string   `form:"scope" binding:"required"`
	TopK      int      `form:"top_k" binding:"omitempty,min=1,max=100"`
	Threshold *float32 `form:"threshold"`
}

type MatchResponse struct {
	ExternalID   int64   `json:"external_id"`
	DisplayName  string  `json:"display_name"`
	IdentityType string  `json:"identity_type"`
	Similarity   float32 `json:"similarity"`
}

type SearchResponse struct {
	Scope     string          `json:"scope"`
	Kind      string          `json:"kind"`
	Threshold float32         `json:"threshold"`
	Matches   []MatchResponse `json:"matches"`
}
