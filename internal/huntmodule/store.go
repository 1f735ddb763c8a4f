package huntmodule

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/domain"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// Store is an in-memory CRUD store of HuntModules, persisting them
// via an injected Backend (filesystem, object storage, etc). Grounded
// on spec.md §6's "hunt modules (CRUD) ... persists markdown spec".
type Store struct {
	mu       sync.RWMutex
	modules  map[ids.HuntModuleID]domain.HuntModule
	backend  Backend
	overlays map[ids.HuntModuleID]map[string]any
}

// Backend persists a module's rendered spec file text.
type Backend interface {
	Save(id ids.HuntModuleID, text string) error
	Delete(id ids.HuntModuleID) error
}

// NewStore constructs an empty Store backed by backend; modules are
// registered afterwards with Load, LoadWithOverlay or LoadAll.
func NewStore(backend Backend) *Store {
	return &Store{
		modules:  make(map[ids.HuntModuleID]domain.HuntModule),
		backend:  backend,
		overlays: make(map[ids.HuntModuleID]map[string]any),
	}
}

// Load parses text and registers the module, without persisting it
// (used for bootstrap-time loading of files already on disk).
func (s *Store) Load(text string) (domain.HuntModule, error) {
	m, err := Parse(text)
	if err != nil {
		return domain.HuntModule{}, err
	}
	s.mu.Lock()
	s.modules[m.ID] = m
	s.mu.Unlock()
	return m, nil
}

// LoadWithOverlay parses text, then applies a JSONC override document
// on top of it (the jsonc row of SPEC_FULL.md §2): an
// operator can tweak timeouts or disable a step for one deployment
// without forking the whole module file. JSONC (JSON with comments)
// lets the override file explain each tweak inline.
func (s *Store) LoadWithOverlay(text, overlayJSONC string) (domain.HuntModule, error) {
	m, err := Parse(text)
	if err != nil {
		return domain.HuntModule{}, err
	}
	if overlayJSONC != "" {
		m, err = applyOverlay(m, overlayJSONC)
		if err != nil {
			return domain.HuntModule{}, err
		}
	}
	s.mu.Lock()
	s.modules[m.ID] = m
	s.mu.Unlock()
	return m, nil
}

// stepOverride is one step's overridable fields in an overlay document.
type stepOverride struct {
	TimeoutSeconds *int  `json:"timeout_seconds,omitempty"`
	RequiresSudo   *bool `json:"requires_sudo,omitempty"`
	Disabled       bool  `json:"disabled,omitempty"`
}

type overlayDoc struct {
	Steps map[string]stepOverride `json:"steps"`
}

func applyOverlay(m domain.HuntModule, overlayJSONC string) (domain.HuntModule, error) {
	stripped := jsonc.ToJSON([]byte(overlayJSONC))

	var doc overlayDoc
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return m, fmt.Errorf("huntmodule: parsing overlay: %w", err)
	}

	filtered := m.Steps[:0:0]
	for _, step := range m.Steps {
		override, ok := doc.Steps[step.ID]
		if !ok {
			filtered = append(filtered, step)
			continue
		}
		if override.Disabled {
			continue
		}
		if override.TimeoutSeconds != nil {
			step.TimeoutSeconds = *override.TimeoutSeconds
		}
		if override.RequiresSudo != nil {
			step.RequiresSudo = *override.RequiresSudo
		}
		filtered = append(filtered, step)
	}
	m.Steps = filtered
	return m, nil
}

// List returns every registered module.
func (s *Store) List() []domain.HuntModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HuntModule, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	return out
}

// Get returns a module by ID.
func (s *Store) Get(id ids.HuntModuleID) (domain.HuntModule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	if !ok {
		return domain.HuntModule{}, apperr.NotFoundf("huntmodule: %s not found", id)
	}
	return m, nil
}

// Create registers and persists a new module.
func (s *Store) Create(m domain.HuntModule) error {
	s.mu.Lock()
	if _, exists := s.modules[m.ID]; exists {
		s.mu.Unlock()
		return apperr.Conflictf("huntmodule: %s already exists", m.ID)
	}
	s.modules[m.ID] = m
	s.mu.Unlock()

	return s.persist(m)
}

// Update overwrites an existing module and re-persists it.
func (s *Store) Update(m domain.HuntModule) error {
	s.mu.Lock()
	if _, exists := s.modules[m.ID]; !exists {
		s.mu.Unlock()
		return apperr.NotFoundf("huntmodule: %s not found", m.ID)
	}
	s.modules[m.ID] = m
	s.mu.Unlock()

	return s.persist(m)
}

// Delete removes a module and its persisted file.
func (s *Store) Delete(id ids.HuntModuleID) error {
	s.mu.Lock()
	if _, exists := s.modules[id]; !exists {
		s.mu.Unlock()
		return apperr.NotFoundf("huntmodule: %s not found", id)
	}
	delete(s.modules, id)
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	return s.backend.Delete(id)
}

func (s *Store) persist(m domain.HuntModule) error {
	if s.backend == nil {
		return nil
	}
	text, err := Render(m)
	if err != nil {
		return err
	}
	return s.backend.Save(m.ID, text)
}
