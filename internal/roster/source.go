// Package roster reads classes, pupils and staff from the school management
// API and downloads their reference media.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
)

// Source lists the roster. Listing errors are fatal to a sync cycle.
type Source interface {
	ListClasses(ctx context.Context) ([]models.ClassTimetable, error)
	ListPupils(ctx context.Context, classID string) ([]Entry, error)
	ListStaff(ctx context.Context) ([]Entry, error)
}

// Entry is one person as reported by the roster API.
type Entry struct {
	ExternalID  int64   `json:"external_id"`
	DisplayName string  `json:"display_name"`
	Version     Version `json:"version"`
	Media       []Media `json:"media"`
}

type Media struct {
	AssetType models.AssetType `json:"asset_type"`
	URL       string           `json:"url"`
	FileName  string           `json:"file_name"`
}

// Version is the roster's change marker. The API sends it as a number, a
// numeric string or not at all.
type Version struct {
	Value *float64
	Raw   string
}

func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = Version{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = ParseVersion(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("version %s: %w", data, err)
	}
	*v = Version{Value: &f, Raw: string(data)}
	return nil
}

// ParseVersion converts s to a Version; an empty s is a missing version and
// a non-numeric s keeps only Raw.
func ParseVersion(s string) Version {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Version{Value: &f, Raw: s}
	}
	return Version{Raw: s}
}

// HTTPSource is a Source backed by the school management REST API.
type HTTPSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPSource(cfg config.RosterConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) ListClasses(ctx context.Context) ([]models.ClassTimetable, error) {
	var out []models.ClassTimetable
	if err := s.getJSON(ctx, "/classes", &out); err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return out, nil
}

func (s *HTTPSource) ListPupils(ctx context.Context, classID string) ([]Entry, error) {
	var out []Entry
	if err := s.getJSON(ctx, "/classes/"+url.PathEscape(classID)+"/pupils", &out); err != nil {
		return nil, fmt.Errorf("list pupils of %s: %w", classID, err)
	}
	return out, nil
}

func (s *HTTPSource) ListStaff(ctx context.Context) ([]Entry, error) {
	var out []Entry
	if err := s.getJSON(ctx, "/staff", &out); err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return out, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
