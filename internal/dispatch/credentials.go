package dispatch

import (
	"strings"
	"sync/atomic"

	"upgradebot/internal/storage"
	logx "upgradebot/pkg/logx"
)

// CredentialSet is one opaque credential bundle.
type CredentialSet struct {
	FetchToken     string `json:"fetch_token"`
	AppTransaction string `json:"app_transaction"`
	HashParams     string `json:"hash_params"`
	HashHeaders    string `json:"hash_headers"`
	Sandbox        bool   `json:"is_sandbox"`
}

// CredentialPool is an atomically swapped, immutable list of credential
// sets. Readers see either the old or the new list, never a mix.
type CredentialPool struct {
	cur atomic.Pointer[[]CredentialSet]
	log logx.Logger
}

func NewCredentialPool(sets []CredentialSet, log logx.Logger) *CredentialPool {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &CredentialPool{log: log}
	p.Swap(sets)
	return p
}

// Swap replaces the pool. Last writer wins.
func (p *CredentialPool) Swap(sets []CredentialSet) {
	cp := append([]CredentialSet(nil), sets...)
	p.cur.Store(&cp)
	if len(cp) == 0 {
		p.log.Warn("credential pool is empty; requests will fail until sets are uploaded")
		return
	}
	p.log.Info("credential pool updated", logx.Int("sets", len(cp)))
}

func (p *CredentialPool) load() []CredentialSet {
	if s := p.cur.Load(); s != nil {
		return *s
	}
	return nil
}

func (p *CredentialPool) Len() int { return len(p.load()) }

// Snapshot returns a copy of the current list.
func (p *CredentialPool) Snapshot() []CredentialSet {
	return append([]CredentialSet(nil), p.load()...)
}

// HasUsable reports whether any set carries a fetch token.
func (p *CredentialPool) HasUsable() bool {
	for _, s := range p.load() {
		if strings.TrimSpace(s.FetchToken) != "" {
			return true
		}
	}
	return false
}

// ForWorker maps a 1-based worker ordinal to (ordinal-1) mod len, read from
// the current snapshot. ok is false when the pool is empty.
func (p *CredentialPool) ForWorker(ordinal int) (CredentialSet, int, bool) {
	sets := p.load()
	if len(sets) == 0 {
		return CredentialSet{}, -1, false
	}
	idx := (ordinal - 1) % len(sets)
	if idx < 0 {
		idx += len(sets)
	}
	return sets[idx], idx, true
}

// FromTokenSets converts stored rows to credential sets.
func FromTokenSets(rows []storage.TokenSet) []CredentialSet {
	out := make([]CredentialSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, CredentialSet{
			FetchToken:     r.FetchToken,
			AppTransaction: r.AppTransaction,
			HashParams:     r.HashParams,
			HashHeaders:    r.HashHeaders,
			Sandbox:        r.IsSandbox,
		})
	}
	return out
}

// ToTokenSets is the inverse of FromTokenSets.
func ToTokenSets(sets []CredentialSet) []storage.TokenSet {
	out := make([]storage.TokenSet, 0, len(sets))
	for _, s := range sets {
		out = append(out, storage.TokenSet{
			FetchToken:     s.FetchToken,
			AppTransaction: s.AppTransaction,
			HashParams:     s.HashParams,
			HashHeaders:    s.HashHeaders,
			IsSandbox:      s.Sandbox,
		})
	}
	return out
}
