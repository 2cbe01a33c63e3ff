package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestURLGuard_NewClient_BlockPrivateSetsTimeout(t *testing.T) {
	guard := NewURLGuard(true)
	timeout := 5 * time.Second
	client := guard.NewClient(timeout)
	if client == nil {
		t.Fatal("NewClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("プライベート遮断時は専用Transportが設定されるべき")
	}
}

// httptestサーバーは127.0.0.1で起動されるため、遮断有効時はリクエストが失敗する。
func TestURLGuard_NewClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewURLGuard(true).NewClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestURLGuard_NewClient_AllowsLoopbackWhenDisabled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewURLGuard(false).NewClient(5 * time.Second)
	resp, err := client.Get(ts.URL)
	if err != nil {
		t.Fatalf("遮断無効時はループバックに接続できるべき: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestURLGuard_ValidateURL_PublicURL(t *testing.T) {
	guard := NewURLGuard(true)

	for _, u := range []string{
		"https://example.com",
		"http://rss.sina.com.cn/news/china/focus15.xml",
		"https://blog.example.org/feed?page=2",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestURLGuard_ValidateURL_BlockedAddresses(t *testing.T) {
	guard := NewURLGuard(true)

	for _, u := range []string{
		"http://10.0.0.1/feed",
		"http://172.16.0.1/feed",
		"http://192.168.1.100/feed",
		"http://127.0.0.1/feed",
		"http://localhost/feed",
		"http://LOCALHOST/feed",
		"http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0/feed",
		"http://[::1]/feed",
		"http://[fd00::1]/feed",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should have returned error", u)
			}
		})
	}
}

func TestURLGuard_ValidateURL_PrivateAllowedWhenDisabled(t *testing.T) {
	guard := NewURLGuard(false)

	for _, u := range []string{
		"http://127.0.0.1:8080/feed",
		"http://localhost/feed",
		"http://192.168.1.100/feed",
	} {
		if err := guard.ValidateURL(u); err != nil {
			t.Errorf("ValidateURL(%q) returned error: %v", u, err)
		}
	}
}

func TestURLGuard_ValidateURL_InvalidURL(t *testing.T) {
	// スキームとホストの検証は遮断設定に関係なく行われる
	for _, blockPrivate := range []bool{true, false} {
		guard := NewURLGuard(blockPrivate)
		for _, u := range []string{
			"",
			"not-a-url",
			"ftp://example.com/feed",
			"file:///etc/passwd",
			"http://",
			"://broken",
		} {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("blockPrivate=%v: ValidateURL(%q) should have returned error", blockPrivate, u)
			}
		}
	}
}
