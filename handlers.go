package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nostr-threads/internal/export"
	"nostr-threads/internal/thread"
	"nostr-threads/internal/types"
)

// maxPageSize bounds the page_size query parameter.
const maxPageSize = 500

type ThreadResponse struct {
	Root          *EventItem  `json:"root"`
	DirectReplies []EventItem `json:"direct_replies"`
	Nodes         []NodeItem  `json:"nodes"`
	HasMore       bool        `json:"has_more"`
	NotFound      bool        `json:"not_found"`
	Degraded      bool        `json:"degraded"`
	Stage         string      `json:"stage"`
	Meta          MetaInfo    `json:"meta"`
}

type EventItem struct {
	ID         string     `json:"id"`
	Kind       int        `json:"kind"`
	Pubkey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Content    string     `json:"content"`
	Tags       [][]string `json:"tags"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"relays_seen"`
}

type NodeItem struct {
	ID    string    `json:"id"`
	Depth int       `json:"depth"`
	Event EventItem `json:"event"`
}

type MetaInfo struct {
	RootID        string    `json:"root_id"`
	QueriedRelays int       `json:"queried_relays"`
	Relays        []string  `json:"relays"`
	MaxDepth      int       `json:"max_depth"`
	Share         string    `json:"share,omitempty"`
	GeneratedAt   time.Time `json:"generated_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toEventItem(evt types.Event) EventItem {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	relays := evt.RelaysSeen
	if relays == nil {
		relays = []string{}
	}
	return EventItem{
		ID:         evt.ID,
		Kind:       evt.Kind,
		Pubkey:     evt.PubKey,
		CreatedAt:  evt.CreatedAt,
		Content:    evt.Content,
		Tags:       tags,
		Sig:        evt.Sig,
		RelaysSeen: relays,
	}
}

// threadRequest is the parsed query of GET /thread/{ref}.
type threadRequest struct {
	ref     string
	opts    thread.Options
	flatten thread.FlattenOptions
	html    bool
}

func parseThreadRequest(r *http.Request) (threadRequest, error) {
	q := r.URL.Query()
	req := threadRequest{
		ref: r.PathValue("ref"),
		opts: thread.Options{
			Relays:        parseStringList(q.Get("relays")),
			HintedEventID: strings.TrimSpace(q.Get("hint")),
			Refresh:       parseBool(q.Get("refresh"), false),
		},
		flatten: thread.FlattenOptions{
			IncludeNested: parseBool(q.Get("nested"), true),
			MaxDepth:      -1,
		},
	}

	if s := q.Get("depth"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return req, errors.New("depth must be a positive integer")
		}
		req.opts.MaxDepth = n
	}
	if s := q.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			return req, errors.New("page_size must be between 1 and 500")
		}
		req.opts.PageSize = n
	}
	if ids := parseStringList(q.Get("collapse")); len(ids) > 0 {
		req.flatten.CollapsedIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			req.flatten.CollapsedIDs[strings.ToLower(id)] = true
		}
	}

	switch q.Get("format") {
	case "html":
		req.html = true
	case "json":
	case "":
		accept := r.Header.Get("Accept")
		req.html = strings.Contains(accept, "text/html") && !strings.Contains(accept, "application/json")
	default:
		return req, errors.New("format must be json or html")
	}
	return req, nil
}

// threadHandler reconstructs the thread rooted at {ref} and returns it as
// JSON or an HTML export.
func (s *server) threadHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Vary", "Accept")
	logger := LoggerFromContext(r.Context())

	req, err := parseThreadRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	th, err := s.engine.ReconstructThread(r.Context(), req.ref, req.opts)
	switch {
	case errors.Is(err, thread.ErrInvalidRootID):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid thread reference"})
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "thread reconstruction timed out"})
		return
	case err != nil:
		logger.Warn("thread reconstruction aborted", "ref", req.ref, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "thread reconstruction aborted"})
		return
	}

	status := http.StatusOK
	if th.NotFound() {
		status = http.StatusNotFound
	}

	if req.html {
		doc := export.FromThread(th, req.flatten)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "max-age=10")
		w.WriteHeader(status)
		if err := export.Render(w, doc); err != nil {
			logger.Error("failed to render thread export", "error", err)
		}
		return
	}

	w.Header().Set("Cache-Control", "max-age=10")
	writeJSON(w, status, s.threadResponse(th, req.flatten, logger))
}

func (s *server) threadResponse(th *thread.Thread, opts thread.FlattenOptions, logger *slog.Logger) ThreadResponse {
	resp := ThreadResponse{
		DirectReplies: make([]EventItem, 0),
		Nodes:         make([]NodeItem, 0),
		HasMore:       th.HasMore(),
		NotFound:      th.NotFound(),
		Degraded:      th.Degraded(),
		Stage:         th.Stage().String(),
		Meta: MetaInfo{
			RootID:        th.RootID(),
			QueriedRelays: len(th.Relays()),
			Relays:        th.Relays(),
			MaxDepth:      th.MaxDepth(),
			GeneratedAt:   time.Now().UTC(),
		},
	}

	author := ""
	if root := th.Root(); root != nil {
		item := toEventItem(*root)
		resp.Root = &item
		author = root.PubKey
	}
	for _, evt := range th.DirectReplies() {
		resp.DirectReplies = append(resp.DirectReplies, toEventItem(evt))
	}
	for _, n := range th.Flatten(opts) {
		resp.Nodes = append(resp.Nodes, NodeItem{ID: n.ID, Depth: n.Depth, Event: toEventItem(n.Event)})
	}

	if share, err := export.ShareURI(th.RootID(), author, th.Relays()); err == nil {
		resp.Meta.Share = share
	} else {
		logger.Debug("failed to encode share link", "error", err)
	}
	return resp
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":        "ok",
		"cache_backend": s.cacheBackend,
	}
	if s.connections != nil {
		body["relay_connections"] = s.connections()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string, def bool) bool {
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}
