package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
)

const defaultStreamOpenTimeout = 10 * time.Second

var (
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	jsonMediaType         = contenttype.NewMediaType("application/json")
)

// Stream is the event-stream transport: a long-lived one-directional SSE
// stream carries server-to-client events while client-to-server messages go
// out as individual HTTP POSTs. Partial stream chunks are reassembled into
// complete framed events before they are handed upward, and the last-seen
// event marker is persisted so a re-opened stream resumes after a drop.
type Stream struct {
	cfg    StreamConfig
	log    *slog.Logger
	client *http.Client

	mu          sync.Mutex
	body        io.ReadCloser
	reader      *bufio.Reader
	cancel      context.CancelFunc
	lastEventID string
	open        bool
	closed      bool
}

// NewStream constructs the event-stream transport. No connection is made
// until Open.
func NewStream(cfg StreamConfig) *Stream {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultStreamOpenTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		cfg: cfg,
		log: log,
		client: &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: cfg.OpenTimeout},
		},
	}
}

func (s *Stream) Kind() Kind { return KindStream }

func (s *Stream) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return fmt.Errorf("stream transport: already open")
	}
	marker := s.lastEventID
	s.mu.Unlock()

	if s.cfg.Markers != nil {
		stored, err := s.cfg.Markers.Load(ctx)
		if err != nil {
			s.log.Warn("stream.marker.load.fail", slog.String("err", err.Error()))
		} else if stored != "" {
			marker = stored
		}
	}

	// The stream must outlive the Open call's context; it is torn down by
	// Close, not by the opener going away.
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.cfg.EventsURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("stream transport: build request: %w", err)
	}
	req.Header.Set("Accept", eventStreamMediaType.String())
	req.Header.Set("Cache-Control", "no-cache")
	if marker != "" {
		req.Header.Set("Last-Event-ID", marker)
	}
	if err := s.attachToken(ctx, req); err != nil {
		cancel()
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("stream transport: open: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream transport: open: unexpected status %d", resp.StatusCode)
	}
	if _, _, err := contenttype.GetAcceptableMediaTypeFromHeader(resp.Header.Get("Content-Type"), eventStreamMediaTypes); err != nil {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("stream transport: open: content-type %q is not an event stream", resp.Header.Get("Content-Type"))
	}

	s.mu.Lock()
	s.body = resp.Body
	s.reader = bufio.NewReader(resp.Body)
	s.cancel = cancel
	s.open = true
	s.closed = false
	s.mu.Unlock()

	s.log.Debug("stream.open.ok", slog.String("events_url", s.cfg.EventsURL), slog.String("resume_from", marker))
	return nil
}

func (s *Stream) attachToken(ctx context.Context, req *http.Request) error {
	if s.cfg.Tokens == nil {
		return nil
	}
	tok, err := s.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("stream transport: token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// Send POSTs one frame to the request URL. Replies do not come back on the
// POST; the peer routes them over the event stream.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		if s.closed {
			return ErrClosed
		}
		return ErrNotConnected
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RequestURL, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("stream transport: build send: %w", err)
	}
	req.Header.Set("Content-Type", jsonMediaType.String())
	if err := s.attachToken(ctx, req); err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("stream transport: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("stream transport: send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive reassembles the next complete SSE event from the inbound stream
// and returns its data payload. Events carrying an id advance the resume
// marker even when they carry no data.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		if s.closed {
			return nil, ErrClosed
		}
		return nil, ErrNotConnected
	}
	r := s.reader
	s.mu.Unlock()

	var data [][]byte
	var eventID string

	flush := func() []byte {
		if eventID != "" {
			s.advanceMarker(ctx, eventID)
		}
		if len(data) == 0 {
			return nil
		}
		return bytes.Join(data, []byte("\n"))
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("stream transport: stream ended: %w", ErrPeerGone)
			}
			return nil, fmt.Errorf("stream transport: receive: %w", err)
		}
		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			// Blank line terminates the event.
			if payload := flush(); payload != nil {
				return payload, nil
			}
			data, eventID = nil, ""
			continue
		}
		if line[0] == ':' {
			// Comment line; servers use these as keepalives.
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "id":
			eventID = string(value)
		case "data":
			data = append(data, value)
		default:
			// "event", "retry" and unknown fields are not part of the frame
			// contract here.
		}
	}
}

func (s *Stream) advanceMarker(ctx context.Context, id string) {
	s.mu.Lock()
	s.lastEventID = id
	s.mu.Unlock()
	if s.cfg.Markers == nil {
		return
	}
	if err := s.cfg.Markers.Store(ctx, id); err != nil {
		s.log.Warn("stream.marker.store.fail", slog.String("id", id), slog.String("err", err.Error()))
	}
}

// LastEventID returns the most recently observed event marker.
func (s *Stream) LastEventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastEventID
}

func (s *Stream) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	s.closed = true
	body := s.body
	cancel := s.cancel
	s.body = nil
	s.reader = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		_ = body.Close()
	}
	return nil
}
