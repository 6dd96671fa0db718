// Package update checks GitHub releases for newer taskloop builds.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// DefaultAPIBase is the GitHub REST API root.
const DefaultAPIBase = "https://api.github.com"

// Release describes a newer release and the download URL for the current platform.
type Release struct {
	Version string `json:"version"`
	Page    string `json:"page"`
	URL     string `json:"url,omitempty"` // empty when no asset matches this platform
}

// githubRelease is the subset of the GitHub releases API response we use.
type githubRelease struct {
	TagName string        `json:"tag_name"`
	HTMLURL string        `json:"html_url"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Checker queries the latest release of a GitHub repository.
type Checker struct {
	CurrentVersion string
	RepoOwner      string
	RepoName       string
	APIBase        string
	httpClient     *http.Client
}

// New returns a Checker for the GoCodeAlone/taskloop repository.
func New(currentVersion string) *Checker {
	return &Checker{
		CurrentVersion: currentVersion,
		RepoOwner:      "GoCodeAlone",
		RepoName:       "taskloop",
		APIBase:        DefaultAPIBase,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// CheckForUpdate returns the latest release when it is newer than the
// current version. Returns nil, nil when up to date or on a dev build.
func (c *Checker) CheckForUpdate(ctx context.Context) (*Release, error) {
	current := canonical(c.CurrentVersion)
	if current == "" {
		return nil, nil
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest",
		strings.TrimRight(c.APIBase, "/"), c.RepoOwner, c.RepoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "taskloop/"+c.CurrentVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	latest := canonical(rel.TagName)
	if latest == "" {
		return nil, fmt.Errorf("release tag %q is not a semantic version", rel.TagName)
	}
	if semver.Compare(latest, current) <= 0 {
		return nil, nil
	}
	return &Release{
		Version: rel.TagName,
		Page:    rel.HTMLURL,
		URL:     platformAssetURL(rel.Assets, runtime.GOOS, runtime.GOARCH),
	}, nil
}

// canonical returns v with a "v" prefix, or "" when v is not a valid
// semantic version (e.g. "dev").
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// platformAssetURL finds the download URL matching goos and goarch.
func platformAssetURL(assets []githubAsset, goos, goarch string) string {
	// Map goarch aliases
	if goarch == "amd64" {
		goarch = "x86_64"
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, goos) && strings.Contains(name, goarch) {
			return a.BrowserDownloadURL
		}
	}
	return ""
}
