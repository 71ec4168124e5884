// Package disclosurelog is a log/slog handler that ships records to a
// disclosurelog server as log entries (POST /api/logs).
package disclosurelog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type Options struct {
	ServerURL  string
	Service    string
	SourceHost string
	InstanceID string       // defaults to a persistent id under ~/.disclosurelog
	Level      slog.Leveler // minimum level, defaults to Info
	QueueSize  int          // defaults to 1000
	HTTPClient *http.Client
}

type Handler struct {
	opts  Options
	state *sendState
	goas  []groupOrAttrs
}

// groupOrAttrs records one WithGroup or WithAttrs call, in call order.
type groupOrAttrs struct {
	group string      // set by WithGroup
	attrs []slog.Attr // set by WithAttrs
}

// sendState is shared by every handler derived through WithAttrs/WithGroup.
type sendState struct {
	queue    chan []byte
	done     chan struct{}
	wg       sync.WaitGroup
	shutdown sync.Once
}

func NewHandler(opts Options) *Handler {
	if opts.SourceHost == "" {
		opts.SourceHost, _ = os.Hostname()
	}
	if opts.InstanceID == "" {
		opts.InstanceID, _ = ensureInstanceID()
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}

	h := &Handler{
		opts: opts,
		state: &sendState{
			queue: make(chan []byte, opts.QueueSize),
			done:  make(chan struct{}),
		},
	}

	h.state.wg.Add(1)
	go h.runLoop()

	return h
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	entry := map[string]interface{}{
		slog.LevelKey:   r.Level.String(),
		slog.MessageKey: r.Message,
		"service":       h.opts.Service,
		"host":          h.opts.SourceHost,
		"instance_id":   h.opts.InstanceID,
	}
	if !r.Time.IsZero() {
		entry[slog.TimeKey] = r.Time.UTC().Format(time.RFC3339Nano)
	}

	goas := h.goas
	if r.NumAttrs() == 0 {
		// Groups opened after the last attrs would stay empty.
		for len(goas) > 0 && goas[len(goas)-1].group != "" {
			goas = goas[:len(goas)-1]
		}
	}

	// Groups are created on the first attr written inside them.
	target := entry
	var pending []string
	put := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		if emptyAttr(a) {
			return
		}
		for _, g := range pending {
			next, ok := target[g].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				target[g] = next
			}
			target = next
		}
		pending = pending[:0]
		addAttr(target, a)
	}

	for _, goa := range goas {
		if goa.group != "" {
			pending = append(pending, goa.group)
			continue
		}
		for _, a := range goa.attrs {
			put(a)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		put(a)
		return true
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	select {
	case h.state.queue <- data:
	default:
		fmt.Fprintf(os.Stderr, "disclosurelog: queue full, dropping log\n")
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.withGroupOrAttrs(groupOrAttrs{attrs: attrs})
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.withGroupOrAttrs(groupOrAttrs{group: name})
}

func (h *Handler) withGroupOrAttrs(goa groupOrAttrs) *Handler {
	h2 := *h
	h2.goas = make([]groupOrAttrs, len(h.goas)+1)
	copy(h2.goas, h.goas)
	h2.goas[len(h.goas)] = goa
	return &h2
}

func emptyAttr(a slog.Attr) bool {
	if a.Equal(slog.Attr{}) {
		return true
	}
	if a.Value.Kind() != slog.KindGroup {
		return false
	}
	for _, ga := range a.Value.Group() {
		ga.Value = ga.Value.Resolve()
		if !emptyAttr(ga) {
			return false
		}
	}
	return true
}

func addAttr(dst map[string]interface{}, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	switch a.Value.Kind() {
	case slog.KindGroup:
		if emptyAttr(a) {
			return
		}
		attrs := a.Value.Group()
		target := dst
		if a.Key != "" {
			group, ok := dst[a.Key].(map[string]interface{})
			if !ok {
				group = make(map[string]interface{})
				dst[a.Key] = group
			}
			target = group
		}
		for _, ga := range attrs {
			addAttr(target, ga)
		}
	case slog.KindTime:
		dst[a.Key] = a.Value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		dst[a.Key] = a.Value.Duration().String()
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		dst[a.Key] = v
	}
}

func (h *Handler) runLoop() {
	defer h.state.wg.Done()

	endpoint := strings.TrimRight(h.opts.ServerURL, "/") + "/api/logs"
	for {
		select {
		case data := <-h.state.queue:
			h.send(endpoint, data)
		case <-h.state.done:
			// Flush remaining
			for {
				select {
				case data := <-h.state.queue:
					h.send(endpoint, data)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) send(endpoint string, data []byte) {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "disclosurelog: bad request: %v\n", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.opts.HTTPClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "disclosurelog: network error: %v\n", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "disclosurelog: send failed: HTTP %d\n", resp.StatusCode)
	}
}

// Shutdown sends everything still queued and stops the sender.
// Records handled after Shutdown are dropped.
func (h *Handler) Shutdown() {
	h.state.shutdown.Do(func() {
		close(h.state.done)
	})
	h.state.wg.Wait()
}
