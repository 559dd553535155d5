package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/conikeec/mcpr/auth"
	"github.com/conikeec/mcpr/transport/resume/memorymark"
)

// sseServer is an httptest peer: GET serves scripted SSE chunks, POST
// records received frames.
type sseServer struct {
	srv      *httptest.Server
	chunks   chan string
	posts    chan *http.Request
	bodies   chan []byte
	lastSeen chan string // Last-Event-ID header observed per open
}

func newSSEServer(t *testing.T) *sseServer {
	t.Helper()
	s := &sseServer{
		chunks:   make(chan string, 32),
		posts:    make(chan *http.Request, 8),
		bodies:   make(chan []byte, 8),
		lastSeen: make(chan string, 8),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		s.lastSeen <- r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fl := w.(http.Flusher)
		fl.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case chunk, ok := <-s.chunks:
				if !ok {
					return
				}
				_, _ = io.WriteString(w, chunk)
				fl.Flush()
			}
		}
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.posts <- r.Clone(context.Background())
		s.bodies <- body
		w.WriteHeader(http.StatusAccepted)
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *sseServer) config() StreamConfig {
	return StreamConfig{
		EventsURL:  s.srv.URL + "/events",
		RequestURL: s.srv.URL + "/rpc",
	}
}

func openStream(t *testing.T, cfg StreamConfig) *Stream {
	t.Helper()
	st := NewStream(cfg)
	if err := st.Open(context.Background()); err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStreamOpenRejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "not a stream")
	}))
	defer srv.Close()

	st := NewStream(StreamConfig{EventsURL: srv.URL, RequestURL: srv.URL})
	err := st.Open(context.Background())
	if err == nil || !strings.Contains(err.Error(), "content-type") {
		t.Fatalf("want content-type error, got %v", err)
	}
}

func TestStreamOpenRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	st := NewStream(StreamConfig{EventsURL: srv.URL, RequestURL: srv.URL})
	if err := st.Open(context.Background()); err == nil {
		t.Fatal("want open error on 503, got nil")
	}
}

func TestStreamReceiveReassemblesChunkedEvent(t *testing.T) {
	srv := newSSEServer(t)
	st := openStream(t, srv.config())
	<-srv.lastSeen

	// One event split across network chunks, with a keepalive comment in the
	// middle; the frame must only surface once the blank line lands.
	srv.chunks <- "id: 41\n"
	srv.chunks <- ": keepalive\n"
	srv.chunks <- "data: {\"jsonrpc\":\"2.0\",\"me"
	srv.chunks <- "thod\":\"x\"}\n"
	srv.chunks <- "\n"

	frame, err := st.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(frame) != `{"jsonrpc":"2.0","method":"x"}` {
		t.Errorf("frame = %q", frame)
	}
	if st.LastEventID() != "41" {
		t.Errorf("marker = %q, want 41", st.LastEventID())
	}
}

func TestStreamReceiveJoinsMultiDataLines(t *testing.T) {
	srv := newSSEServer(t)
	st := openStream(t, srv.config())
	<-srv.lastSeen

	srv.chunks <- "data: line-one\ndata: line-two\n\n"

	frame, err := st.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(frame) != "line-one\nline-two" {
		t.Errorf("frame = %q", frame)
	}
}

func TestStreamResumeFromMarker(t *testing.T) {
	srv := newSSEServer(t)
	markers := memorymark.New()
	if err := markers.Store(context.Background(), "99"); err != nil {
		t.Fatalf("seeding marker: %v", err)
	}

	cfg := srv.config()
	cfg.Markers = markers
	st := openStream(t, cfg)

	if got := <-srv.lastSeen; got != "99" {
		t.Fatalf("open sent Last-Event-ID %q, want 99", got)
	}

	// A received id advances the stored marker; the next open resumes from
	// it instead of the seed.
	srv.chunks <- "id: 100\ndata: later\n\n"
	if _, err := st.Receive(context.Background()); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2 := openStream(t, cfg)
	defer st2.Close()
	if got := <-srv.lastSeen; got != "100" {
		t.Errorf("reopen sent Last-Event-ID %q, want 100", got)
	}
}

func TestStreamSendPostsFrame(t *testing.T) {
	srv := newSSEServer(t)
	cfg := srv.config()
	cfg.Tokens = auth.Static("sesame")
	st := openStream(t, cfg)
	<-srv.lastSeen

	if err := st.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"up"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case req := <-srv.posts:
		if ct := req.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("content-type = %q", ct)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer sesame" {
			t.Errorf("authorization = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the request endpoint")
	}
	if body := <-srv.bodies; string(body) != `{"jsonrpc":"2.0","method":"up"}` {
		t.Errorf("posted body = %q", body)
	}
}

func TestStreamSendRejectsNon2xx(t *testing.T) {
	events := newSSEServer(t)
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "full", http.StatusTooManyRequests)
	}))
	defer rejecting.Close()

	cfg := events.config()
	cfg.RequestURL = rejecting.URL
	st := openStream(t, cfg)
	<-events.lastSeen

	err := st.Send(context.Background(), []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("want status error, got %v", err)
	}
}

func TestStreamEndIsPeerGone(t *testing.T) {
	srv := newSSEServer(t)
	st := openStream(t, srv.config())
	<-srv.lastSeen

	close(srv.chunks)

	_, err := st.Receive(context.Background())
	if !errors.Is(err, ErrPeerGone) {
		t.Fatalf("want ErrPeerGone, got %v", err)
	}
}
