package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/theMackabu/volt/internal/compression"
	"github.com/theMackabu/volt/internal/events"
	"github.com/theMackabu/volt/internal/store"
)

func (s *Server) slot(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	slot, err := store.ParseSlot(chi.URLParam(r, "slot"))
	if err != nil {
		s.log.Warn().Err(err).Msg("invalid slot id")
		http.Error(w, "invalid slot id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return slot, true
}

func (s *Server) fingerprint(w http.ResponseWriter, r *http.Request) (string, bool) {
	fp := strings.TrimSpace(r.Header.Get(HashHeader))
	if fp == "" {
		s.log.Warn().Str("path", r.URL.Path).Msg("missing " + HashHeader + " header")
		http.Error(w, "missing "+HashHeader+" header", http.StatusBadRequest)
		return "", false
	}
	return fp, true
}

// bodyReader remembers read failures so they can be told apart from
// storage failures.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.err = err
	}
	return n, err
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	fp := r.Header.Get(HashHeader)

	body := &bodyReader{r: r.Body}
	n, err := s.slots.Push(r.Context(), slot, body, fp)
	if err != nil {
		if body.err != nil || r.Context().Err() != nil {
			s.log.Warn().Err(err).Str("slot", slot.String()).Msg("read request body")
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		s.log.Error().Err(err).Str("slot", slot.String()).Msg("store archive")
		http.Error(w, "failed to store archive", http.StatusInternalServerError)
		return
	}
	s.metrics.pushed.Add(float64(n))

	if s.events != nil {
		e := events.Pushed{Slot: slot.String(), Fingerprint: strings.TrimSpace(fp), Size: n}
		if err := s.events.PublishPushed(r.Context(), e); err != nil {
			s.log.Warn().Err(err).Str("slot", slot.String()).Msg("publish push event")
		}
	}

	s.log.Debug().Str("slot", slot.String()).Int64("size", n).Msg("archive stored")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	fp, ok := s.fingerprint(w, r)
	if !ok {
		return
	}

	status, rc, size, err := s.slots.Pull(r.Context(), slot, fp)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slot.String()).Msg("open archive")
		http.Error(w, "failed to read archive", http.StatusInternalServerError)
		return
	}
	s.metrics.results.WithLabelValues("pull", status.String()).Inc()

	switch status {
	case store.Unchanged:
		w.WriteHeader(http.StatusNotModified)
		return
	case store.Missing:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer rc.Close()

	h := w.Header()
	h.Set("Content-Encoding", compression.Encoding)
	h.Set("Content-Type", "application/octet-stream")
	if size > 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	s.metrics.pulled.Add(float64(n))
	if err != nil {
		s.log.Warn().Err(err).Str("slot", slot.String()).Int64("sent", n).Msg("stream archive")
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	slot, ok := s.slot(w, r)
	if !ok {
		return
	}
	fp, ok := s.fingerprint(w, r)
	if !ok {
		return
	}

	status, err := s.slots.Check(r.Context(), slot, fp)
	if err != nil {
		s.log.Error().Err(err).Str("slot", slot.String()).Msg("check archive")
		http.Error(w, "failed to read archive", http.StatusInternalServerError)
		return
	}
	s.metrics.results.WithLabelValues("check", status.String()).Inc()

	switch status {
	case store.Unchanged:
		w.WriteHeader(http.StatusNotModified)
	case store.Changed:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, chi.URLParam(r, "slot"))
}
