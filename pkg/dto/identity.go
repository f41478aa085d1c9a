package dto

type MediaResponse struct {
	AssetType    string `json:"asset_type"`
	FileName     string `json:"file_name"`
	HasEmbedding bool   `json:"has_embedding"`
	Error        string `json:"error,omitempty"`
}

type IdentityResponse struct {
	ExternalID   int64           `json:"external_id"`
	DisplayName  string          `json:"display_name"`
	Scope        string          `json:"scope"`
	IdentityType string          `json:"identity_type"`
	Version      *float64        `json:"version,omitempty"`
	SyncedAt     string          `json:"synced_at"`
	Media        []MediaResponse `json:"media"`
}
