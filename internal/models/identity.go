package models

import (
	"net/url"
	"strings"
	"time"
)

// StaffScope is the scope shared by all staff. Every other scope is a class id.
const StaffScope = "staff"

// ScopeDir encodes scope as a single path element. Distinct scopes always
// map to distinct names: path escaping never emits a lone '%' or a literal
// "%2E", so the empty scope and leading dots cannot collide with real ids.
func ScopeDir(scope string) string {
	if scope == "" {
		return "%"
	}
	s := url.PathEscape(scope)
	rest := strings.TrimLeft(s, ".")
	return strings.Repeat("%2E", len(s)-len(rest)) + rest
}

type IdentityType string

const (
	IdentityPupil IdentityType = "pupil"
	IdentityStaff IdentityType = "staff"
)

type AssetType string

const (
	AssetImage AssetType = "image"
	AssetAudio AssetType = "audio"
)

// MediaAsset is one reference photo or voice clip of an identity.
// Embedding stays nil until extraction succeeds.
type MediaAsset struct {
	AssetType AssetType `json:"asset_type" bson:"asset_type"`
	RemoteURL string    `json:"remote_url" bson:"remote_url"`
	LocalPath string    `json:"local_path" bson:"local_path"`
	FileName  string    `json:"file_name" bson:"file_name"`
	Embedding []float32 `json:"-" bson:"embedding,omitempty"`
	Error     string    `json:"error,omitempty" bson:"error,omitempty"`
}

// Identity is an enrolled pupil or staff member. ExternalID is unique
// within Scope. A nil Version means the roster did not report one.
// RosterPosition is the identity's index in the last roster listing of
// its scope; stores list identities in that order.
type Identity struct {
	ExternalID     int64        `json:"external_id" bson:"external_id"`
	DisplayName    string       `json:"display_name" bson:"display_name"`
	Scope          string       `json:"scope" bson:"scope"`
	IdentityType   IdentityType `json:"identity_type" bson:"identity_type"`
	RosterPosition int          `json:"roster_position" bson:"roster_position"`
	Media          []MediaAsset `json:"media" bson:"media"`
	Version        *float64     `json:"version,omitempty" bson:"version,omitempty"`
	SyncedAt       time.Time    `json:"synced_at" bson:"synced_at"`
}

// Embeddings returns the computed embeddings of assets of the given type,
// in asset order.
func (i *Identity) Embeddings(t AssetType) [][]float32 {
	var out [][]float32
	for _, m := range i.Media {
		if m.AssetType == t && m.Embedding != nil {
			out = append(out, m.Embedding)
		}
	}
	return out
}
