package marketbclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/skinarb/skinarb/pkg/transport"
)

type stubDoer struct {
	status  int
	body    string
	gotBody string
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(req.Body)
	s.gotBody = string(b)
	return &http.Response{StatusCode: s.status, Body: io.NopCloser(strings.NewReader(s.body))}, nil
}

func TestClient_FetchPageSendsExpectedBodyAndDecodesItems(t *testing.T) {
	doer := &stubDoer{status: 200, body: `{"data":{"items":[
		{"hashName": "AK-47 | Redline (Field-Tested)", "displayName": "AK-47 | Redline", "sellPrice": "12.30", "sellCount": 5, "sourceLink": "https://example.com/2"}
	]}}`}
	pacing := transport.NewPacingLimiter(0, 0, 0, 0)
	tc := transport.NewClient("B", "http://example.com", pacing, transport.WithHTTPDoer(doer), transport.WithRetryPolicy(1, time.Millisecond, time.Millisecond))
	client := New(tc)

	items, err := client.FetchPage(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Key != "AK-47 | Redline (Field-Tested)" {
		t.Errorf("unexpected key: %s", items[0].Key)
	}

	var sent queryRequest
	if err := json.Unmarshal([]byte(doer.gotBody), &sent); err != nil {
		t.Fatalf("sent body not valid JSON: %v", err)
	}
	if sent.PageIndex != 0 || sent.PageSize != 100 {
		t.Errorf("unexpected request body: %+v", sent)
	}
}

func TestClient_FetchPageEmptySignalsEndOfStream(t *testing.T) {
	doer := &stubDoer{status: 200, body: `{"data":{"items":[]}}`}
	pacing := transport.NewPacingLimiter(0, 0, 0, 0)
	tc := transport.NewClient("B", "http://example.com", pacing, transport.WithHTTPDoer(doer))
	client := New(tc)

	items, err := client.FetchPage(context.Background(), 5, 100)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty page, got %d items", len(items))
	}
}
