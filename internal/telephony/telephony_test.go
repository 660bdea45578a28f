package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ringcast/ringcast/internal/apperr"
)

func TestCreateCallSendsFormAndParsesSID(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC123" || pass != "tok" {
			t.Fatalf("missing or wrong basic auth")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "tok", srv.URL)
	res, err := c.CreateCall(context.Background(), CallParams{
		To:             "+15551234567",
		From:           "+15550006000",
		WebhookURL:     "https://voice.example.com/incoming-call/default",
		StatusCallback: "https://voice.example.com/call-end-webhook",
		TimeLimitSec:   65,
		Record:         true,
	})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if res.SID != "CA1" {
		t.Fatalf("SID = %q, want CA1", res.SID)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotForm["TimeLimit"] != "65" || gotForm["Record"] != "true" || gotForm["MachineDetection"] != "Disable" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
}

func TestCreateCallProviderErrorSurfacesAsTelephonyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"authenticate"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "bad", srv.URL)
	_, err := c.CreateCall(context.Background(), CallParams{To: "+1555", From: "+1556"})
	if apperr.CodeOf(err) != apperr.CodeTelephonyFailure {
		t.Fatalf("CreateCall() error = %v, want telephony_failure", err)
	}
}

func TestCreateCallRetriesTransientFailures(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA9","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "tok", srv.URL)
	res, err := c.CreateCall(context.Background(), CallParams{To: "+1555", From: "+1556"})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if res.SID != "CA9" {
		t.Fatalf("SID = %q, want CA9", res.SID)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestCreateCallDoesNotRetryClientErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid To"}`))
	}))
	defer srv.Close()

	c := NewClient("AC123", "tok", srv.URL)
	if _, err := c.CreateCall(context.Background(), CallParams{To: "bogus", From: "+1556"}); err == nil {
		t.Fatalf("CreateCall() error = nil, want telephony_failure")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestStreamTwiML(t *testing.T) {
	body, err := StreamTwiML("wss://voice.example.com/media-stream/default", 65)
	if err != nil {
		t.Fatalf("StreamTwiML() error = %v", err)
	}
	s := string(body)
	if !strings.Contains(s, `<Stream url="wss://voice.example.com/media-stream/default" maxDuration="65">`) {
		t.Fatalf("twiml missing stream element: %s", s)
	}
	if !strings.HasPrefix(s, `<?xml`) {
		t.Fatalf("twiml missing xml header: %s", s)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"+1 (555) 123-4567", "+15551234567", true},
		{"5551234567", "", false},
		{"+0123456789", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizePhone(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
