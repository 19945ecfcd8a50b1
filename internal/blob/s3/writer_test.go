package s3blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type s3Request struct {
	method, path, contentType, account, mode string
}

// fakeS3 accepts PutObject calls and records their headers.
func fakeS3(t *testing.T) (*Client, func() []s3Request) {
	t.Helper()
	var mu sync.Mutex
	var seen []s3Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, s3Request{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			account:     r.Header.Get("X-Amz-Meta-Account"),
			mode:        r.Header.Get("X-Amz-Meta-Mode"),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
		Prefix:         "gw/DU123/",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, func() []s3Request {
		mu.Lock()
		defer mu.Unlock()
		return append([]s3Request(nil), seen...)
	}
}

func TestWriter_PutTagsObjects(t *testing.T) {
	c, requests := fakeS3(t)
	w := NewWriter(c).WithMetadata("account", "DU123").WithMetadata("mode", "live").WithMetadata("empty", "")

	err := w.Put(context.Background(), "executions/2024/08/05/s1.jsonl", strings.NewReader(`{"exec_id":"e1"}`+"\n"), contentTypeJSONL)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got := requests()
	if len(got) != 1 {
		t.Fatalf("%d requests, want 1", len(got))
	}
	r := got[0]
	if r.method != http.MethodPut || r.path != "/archive/gw/DU123/executions/2024/08/05/s1.jsonl" {
		t.Errorf("request = %s %s", r.method, r.path)
	}
	if r.account != "DU123" || r.mode != "live" || r.contentType != contentTypeJSONL {
		t.Errorf("headers = %+v", r)
	}
	if _, ok := w.metadata["empty"]; ok {
		t.Error("empty metadata value was kept")
	}
}

func TestWriter_PutMultipartSmallBodyUsesSingleRequest(t *testing.T) {
	c, requests := fakeS3(t)
	w := NewWriter(c).WithMetadata("account", "DU123")

	if err := w.PutMultipart(context.Background(), "executions/s2.jsonl", strings.NewReader("{}\n"), 1024); err != nil {
		t.Fatalf("PutMultipart: %v", err)
	}
	got := requests()
	if len(got) != 1 || got[0].method != http.MethodPut || got[0].account != "DU123" {
		t.Errorf("requests = %+v, want one tagged PutObject", got)
	}
}
