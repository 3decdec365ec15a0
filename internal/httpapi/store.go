package httpapi

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/adnlabs/clinical-navigator/internal/orchestrator"
)

type persistedAnalyses struct {
	Analyses map[string]*orchestrator.Envelope `json:"analyses"`
}

// AnalysisStore keeps completed analysis envelopes keyed by session id. An
// empty path keeps everything in memory only; otherwise every Put rewrites
// the state file atomically so a restart reloads all sessions.
type AnalysisStore struct {
	path string

	mu       sync.RWMutex
	analyses map[string]*orchestrator.Envelope
}

func OpenAnalysisStore(path string) (*AnalysisStore, error) {
	s := &AnalysisStore{
		path:     path,
		analyses: map[string]*orchestrator.Envelope{},
	}
	if path == "" {
		return s, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	var state persistedAnalyses
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	if state.Analyses != nil {
		s.analyses = state.Analyses
	}
	return s, nil
}

func (s *AnalysisStore) Put(env orchestrator.Envelope) (string, error) {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[id] = &env
	if err := s.save(); err != nil {
		delete(s.analyses, id)
		return "", err
	}
	return id, nil
}

func (s *AnalysisStore) Get(id string) (orchestrator.Envelope, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	env, ok := s.analyses[id]
	if !ok {
		return orchestrator.Envelope{}, false
	}
	return *env, true
}

func (s *AnalysisStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.analyses)
}

// save must be called with the write lock held.
func (s *AnalysisStore) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(persistedAnalyses{Analyses: s.analyses}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
