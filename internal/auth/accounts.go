package auth

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/huntrelay/huntrelay/internal/apperr"
	"github.com/huntrelay/huntrelay/internal/ids"
)

// account is one analyst's login record as persisted to disk.
type account struct {
	AnalystID    ids.AnalystID `json:"analyst_id"`
	PasswordHash string        `json:"password_hash"`
}

// AccountStore is a JSON-file-backed analyst directory: the reference
// implementation the Gateway's credentialLookup interface is built
// against (spec.md §1 scopes the real account directory as an
// external collaborator). Every write rewrites the whole file —
// acceptable at the scale of an operator roster, not a multi-tenant
// user base.
type AccountStore struct {
	mu   sync.Mutex
	path string
	byUsername map[string]account
}

// OpenAccountStore loads path if it exists, or starts empty — the
// file is created on first SetPasswordHash/CreateAccount call.
func OpenAccountStore(path string) (*AccountStore, error) {
	s := &AccountStore{path: path, byUsername: make(map[string]account)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.DBError, "auth: reading account directory: %v", err)
	}
	if err := json.Unmarshal(data, &s.byUsername); err != nil {
		return nil, apperr.New(apperr.DBError, "auth: parsing account directory: %v", err)
	}
	return s, nil
}

// CreateAccount adds a new analyst login, failing if username exists.
func (s *AccountStore) CreateAccount(username string, analystID ids.AnalystID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[username]; exists {
		return apperr.Conflictf("auth: account %q already exists", username)
	}
	s.byUsername[username] = account{AnalystID: analystID, PasswordHash: hash}
	return s.saveLocked()
}

// PasswordHash implements the Gateway's credentialLookup contract.
func (s *AccountStore) PasswordHash(username string) (ids.AnalystID, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byUsername[username]
	if !ok {
		return "", "", apperr.NotFoundf("auth: no account %q", username)
	}
	return a.AnalystID, a.PasswordHash, nil
}

// SetPasswordHash implements the Gateway's credentialLookup contract.
func (s *AccountStore) SetPasswordHash(analystID ids.AnalystID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for username, a := range s.byUsername {
		if a.AnalystID == analystID {
			a.PasswordHash = hash
			s.byUsername[username] = a
			return s.saveLocked()
		}
	}
	return apperr.NotFoundf("auth: no account for analyst %s", analystID)
}

func (s *AccountStore) saveLocked() error {
	data, err := json.MarshalIndent(s.byUsername, "", "  ")
	if err != nil {
		return apperr.New(apperr.DBError, "auth: encoding account directory: %v", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return apperr.New(apperr.DBError, "auth: writing account directory: %v", err)
	}
	return nil
}
