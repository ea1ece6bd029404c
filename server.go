package provlog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/ipfs/go-cid"
)

const (
	contentTypeProtobuf = "application/x-protobuf"
	contentTypeBinary   = "application/octet-stream"
)

// Server exposes a log store over HTTP:
//
//	POST /api/v1/logs/{vlad}/entries   submit a proposed entry
//	GET  /api/v1/logs/{vlad}           fetch the canonical log
//	GET  /api/v1/entries/{cid}         fetch one canonical entry
//
// Submissions carry either raw canonical entry bytes or a protobuf
// SubmitRequest, selected by Content-Type; responses to submissions
// are protobuf SubmitResponse messages.
type Server struct {
	store EntryStore
	cfg   Config
	mux   *http.ServeMux

	// mu serializes validate-and-append per server so two submissions
	// for the same log cannot both read the same head.
	mu sync.Mutex
}

// NewServer wraps an entry store in the HTTP API.
func NewServer(store EntryStore, cfg Config) *Server {
	s := &Server{store: store, cfg: cfg, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/v1/logs/{vlad}/entries", s.handleSubmit)
	s.mux.HandleFunc("GET /api/v1/logs/{vlad}", s.handleGetLog)
	s.mux.HandleFunc("GET /api/v1/entries/{cid}", s.handleGetEntry)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	vlad, err := ParseVlad(r.PathValue("vlad"))
	if err != nil {
		http.Error(w, "bad vlad", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	raw := body
	if r.Header.Get("Content-Type") == contentTypeProtobuf {
		var req SubmitRequest
		if err := req.Unmarshal(body); err != nil {
			http.Error(w, "bad submit request", http.StatusBadRequest)
			return
		}
		if req.Vlad != "" {
			reqVlad, err := ParseVlad(req.Vlad)
			if err != nil || !reqVlad.Equal(vlad) {
				http.Error(w, "vlad mismatch", http.StatusBadRequest)
				return
			}
		}
		raw = req.Entry
	}

	prop, rest, err := DecodeEntry(raw)
	if err != nil || len(rest) != 0 {
		http.Error(w, "bad entry encoding", http.StatusBadRequest)
		return
	}

	resp := s.submit(vlad, prop)
	status := http.StatusOK
	if !resp.Accepted {
		status = http.StatusUnprocessableEntity
	}
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(resp.Marshal())
}

// firstLock resolves the first lock script named by the vlad's CID
// from the store. An unknown CID yields the zero script, which makes
// genesis validation fall back to the implied ephemeral lock.
func (s *Server) firstLock(vlad Vlad) Script {
	data, found, err := s.store.Get(vlad.Cid)
	if err != nil || !found {
		return Script{}
	}
	fl, rest, err := DecodeScript(data)
	if err != nil || len(rest) != 0 {
		return Script{}
	}
	return fl
}

// submit validates a proposal against the stored log and persists it
// on acceptance.
func (s *Server) submit(vlad Vlad, prop *Entry) *SubmitResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := LoadLog(s.store, vlad, s.firstLock(vlad))
	if err != nil {
		return &SubmitResponse{Error: err.Error()}
	}
	l.SetScriptLoader(StoreLoader(s.store))

	p, err := l.TryAppend(prop, s.cfg)
	if err != nil {
		logger.Debug().Str("vlad", vlad.String()).Err(err).Msg("submission rejected")
		return &SubmitResponse{Error: err.Error()}
	}
	if err := SaveLog(s.store, l); err != nil {
		return &SubmitResponse{Error: fmt.Sprintf("persist: %v", err)}
	}
	return &SubmitResponse{Accepted: true, Precedence: p}
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	vlad, err := ParseVlad(r.PathValue("vlad"))
	if err != nil {
		http.Error(w, "bad vlad", http.StatusBadRequest)
		return
	}
	l, err := LoadLog(s.store, vlad, s.firstLock(vlad))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !l.Head.Defined() {
		http.Error(w, "unknown log", http.StatusNotFound)
		return
	}
	data, err := l.Encode()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	_, _ = w.Write(data)
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	c, err := cid.Decode(r.PathValue("cid"))
	if err != nil {
		http.Error(w, "bad cid", http.StatusBadRequest)
		return
	}
	data, found, err := s.store.Get(c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "unknown entry", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeBinary)
	_, _ = w.Write(data)
}

// SubmitEntry posts a proposed entry to a remote log server and parses
// the verdict.
func SubmitEntry(client *http.Client, baseURL string, vlad Vlad, e *Entry) (*SubmitResponse, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req := SubmitRequest{Vlad: vlad.String(), Entry: e.Encode()}
	url := baseURL + "/api/v1/logs/" + vlad.String() + "/entries"
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(req.Marshal()))
	if err != nil {
		return nil, fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeProtobuf)
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post entry: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("submit entry: status %d", resp.StatusCode)
	}
	var out SubmitResponse
	if err := out.Unmarshal(body); err != nil {
		return nil, err
	}
	if !out.Accepted && out.Error == "" {
		return nil, errors.New("submit entry: rejected without reason")
	}
	return &out, nil
}
