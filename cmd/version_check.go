package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Static errors for version checking
var (
	ErrVersionCheckFailed = errors.New("version check failed")
)

// GitHubRelease is the subset of GitHub's latest release response we read
type GitHubRelease struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	HTMLURL     string    `json:"html_url"`
}

// VersionCheckResult contains the result of checking for updates
type VersionCheckResult struct {
	UpdateAvailable bool
	CurrentVersion  string
	LatestVersion   string
	ReleaseURL      string
	Error           error
}

const (
	versionCheckTimeout = 5 * time.Second
	cacheExpiry         = 24 * time.Hour
)

// VersionCheckCache represents cached version check data
type VersionCheckCache struct {
	UpdateAvailable bool      `json:"update_available"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseURL      string    `json:"release_url"`
	Timestamp       time.Time `json:"timestamp"`
}

// releaseChecker looks up the latest published release, caching the answer for a day
type releaseChecker struct {
	url       string
	client    *http.Client
	cachePath string
}

// newReleaseChecker checks url, a GitHub "latest release" API endpoint such as
// https://api.github.com/repos/<owner>/<repo>/releases/latest. An empty url disables the check.
func newReleaseChecker(url string) *releaseChecker {
	return &releaseChecker{
		url:       url,
		client:    &http.Client{Timeout: versionCheckTimeout},
		cachePath: filepath.Join(GetStateDir(), "version_check.json"),
	}
}

// check compares currentVersion with the latest release. Errors are reported in
// the result, never returned, so a failed lookup cannot fail a run.
func (c *releaseChecker) check(ctx context.Context, currentVersion string) VersionCheckResult {
	result := VersionCheckResult{
		CurrentVersion: currentVersion,
	}

	// Skip version check for development builds or when no release feed is configured
	if currentVersion == "dev" || currentVersion == "" || c.url == "" {
		return result
	}

	if cached := c.readCache(); cached != nil && time.Since(cached.Timestamp) < cacheExpiry {
		result.UpdateAvailable = cached.UpdateAvailable
		result.LatestVersion = cached.LatestVersion
		result.ReleaseURL = cached.ReleaseURL
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result
	}
	// GitHub API requires a User-Agent
	req.Header.Set("User-Agent", fmt.Sprintf("sales-pipeline/%s", currentVersion))

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to fetch latest release: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("%w: status %d", ErrVersionCheckFailed, resp.StatusCode)
		return result
	}

	var release GitHubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		result.Error = fmt.Errorf("failed to decode response: %w", err)
		return result
	}

	// "v1.1.0" -> "1.1.0"
	latestVersion := strings.TrimPrefix(release.TagName, "v")
	result.LatestVersion = latestVersion
	result.ReleaseURL = release.HTMLURL
	result.UpdateAvailable = compareVersions(latestVersion, strings.TrimPrefix(currentVersion, "v")) > 0

	c.writeCache(VersionCheckCache{
		UpdateAvailable: result.UpdateAvailable,
		LatestVersion:   latestVersion,
		ReleaseURL:      result.ReleaseURL,
		Timestamp:       time.Now(),
	})

	return result
}

func (c *releaseChecker) readCache() *VersionCheckCache {
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil
	}

	var cache VersionCheckCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

func (c *releaseChecker) writeCache(cache VersionCheckCache) {
	_ = os.MkdirAll(filepath.Dir(c.cachePath), 0o755)

	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = os.WriteFile(c.cachePath, data, 0o600)
}

// compareVersions compares two semantic version strings
// Returns: 1 if v1 > v2, -1 if v1 < v2, 0 if equal
func compareVersions(v1, v2 string) int {
	parts1 := parseVersion(v1)
	parts2 := parseVersion(v2)

	for i := 0; i < 3; i++ {
		if parts1[i] > parts2[i] {
			return 1
		}
		if parts1[i] < parts2[i] {
			return -1
		}
	}
	return 0
}

// parseVersion parses "major.minor.patch", ignoring a pre-release or build suffix
func parseVersion(version string) [3]int {
	if i := strings.IndexAny(version, "-+"); i >= 0 {
		version = version[:i]
	}

	var parts [3]int
	for i, component := range strings.Split(version, ".") {
		if i == len(parts) {
			break
		}
		if n, err := strconv.Atoi(component); err == nil {
			parts[i] = n
		}
	}
	return parts
}

// formatUpdateMessage creates a user-friendly update notification message
func formatUpdateMessage(result VersionCheckResult) string {
	return fmt.Sprintf("Update available: v%s → v%s (visit %s)",
		result.CurrentVersion,
		result.LatestVersion,
		result.ReleaseURL,
	)
}
