package dto

// ScopeSummary is the outcome of syncing one scope.
type ScopeSummary struct {
	Scope         string `json:"scope"`
	Added         int    `json:"added"`
	Updated       int    `json:"updated"`
	Unchanged     int    `json:"unchanged"`
	Deleted       int    `json:"deleted"`
	AssetFailures int    `json:"asset_failures"`
	Built         bool   `json:"built"`
	Error         string `json:"error,omitempty"`
}

type SyncResponse struct {
	Scopes []ScopeSummary `json:"scopes"`
}

type BuildResponse struct {
	Scope  string     `json:"scope"`
	Built  bool       `json:"built"`
	Faces  *IndexInfo `json:"faces,omitempty"`
	Voices *IndexInfo `json:"voices,omitempty"`
}

type IndexInfo struct {
	BuildID string `json:"build_id"`
	Vectors int    `json:"vectors"`
	BuiltAt string `json:"built_at"`
}
