package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const maxEventSize = 1 << 20

// SSESource reads snapshots from the backend's server-sent events endpoint
type SSESource struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewSSESource streams from {baseURL}/events/games/{id}. The HTTP client has
// no timeout; the stream is bounded by its context.
func NewSSESource(baseURL, token string) *SSESource {
	return &SSESource{
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

func (s *SSESource) Name() string { return "sse" }

func (s *SSESource) Stream(ctx context.Context, gameID string, deliver func([]byte)) error {
	endpoint := fmt.Sprintf("%s/events/games/%s", s.baseURL, url.PathEscape(gameID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	slog.Debug("Connected to event stream", "game_id", gameID, "url", endpoint)
	if err := readEvents(resp.Body, deliver); err != nil {
		return err
	}
	return ErrStreamClosed
}

// readEvents splits an event stream into payloads. Consecutive data lines
// are joined with newlines and dispatched on a blank line; comments and
// other fields are ignored.
func readEvents(r io.Reader, deliver func([]byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data bytes.Buffer
	hasData := false

	for scanner.Scan() {
		line := scanner.Bytes()

		if len(line) == 0 {
			if hasData {
				deliver(bytes.Clone(data.Bytes()))
			}
			data.Reset()
			hasData = false
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if found && len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		if string(field) != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.Write(value)
		hasData = true
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return nil
}
