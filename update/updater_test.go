package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
)

func newTestChecker(t *testing.T, current, body string) *Checker {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/GoCodeAlone/taskloop/releases/latest" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	c := New(current)
	c.APIBase = srv.URL
	return c
}

func TestCheckForUpdate_Newer(t *testing.T) {
	body := `{"tag_name":"v1.3.0","html_url":"https://example.com/r/v1.3.0","assets":[
		{"name":"taskloop_` + runtime.GOOS + `_x86_64.tar.gz","browser_download_url":"https://example.com/x86"},
		{"name":"taskloop_` + runtime.GOOS + `_arm64.tar.gz","browser_download_url":"https://example.com/arm"}
	]}`
	c := newTestChecker(t, "1.2.9", body)

	rel, err := c.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	if rel == nil || rel.Version != "v1.3.0" {
		t.Fatalf("release = %+v, want v1.3.0", rel)
	}
	if rel.Page != "https://example.com/r/v1.3.0" {
		t.Errorf("Page = %q", rel.Page)
	}
}

func TestCheckForUpdate_UpToDate(t *testing.T) {
	c := newTestChecker(t, "v1.10.0", `{"tag_name":"v1.9.0"}`)
	rel, err := c.CheckForUpdate(context.Background())
	if err != nil || rel != nil {
		t.Errorf("got %+v, %v; want nil, nil", rel, err)
	}
}

func TestCheckForUpdate_DevBuild(t *testing.T) {
	c := New("dev")
	c.APIBase = "http://127.0.0.1:0"
	rel, err := c.CheckForUpdate(context.Background())
	if err != nil || rel != nil {
		t.Errorf("got %+v, %v; want nil, nil without a request", rel, err)
	}
}

func TestPlatformAssetURL(t *testing.T) {
	assets := []githubAsset{
		{Name: "taskloop_linux_x86_64.tar.gz", BrowserDownloadURL: "linux-amd64"},
		{Name: "taskloop_darwin_arm64.tar.gz", BrowserDownloadURL: "darwin-arm64"},
	}
	if got := platformAssetURL(assets, "linux", "amd64"); got != "linux-amd64" {
		t.Errorf("linux/amd64 = %q", got)
	}
	if got := platformAssetURL(assets, "darwin", "arm64"); got != "darwin-arm64" {
		t.Errorf("darwin/arm64 = %q", got)
	}
	if got := platformAssetURL(assets, "windows", "amd64"); got != "" {
		t.Errorf("windows/amd64 = %q, want empty", got)
	}
}
