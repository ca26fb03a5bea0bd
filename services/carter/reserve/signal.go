package reserve

import "sync"

// StopSignal is the only state reservation workers share. codes are never
// removed once marked.
type StopSignal interface {
	MarkSecured(code string)
	IsAnyoneSecured() bool
	// Secured returns the marked codes in the order they were first marked.
	Secured() []string
}

type SecuredSet struct {
	lock  sync.Mutex
	seen  map[string]struct{}
	order []string
}

func NewSecuredSet() *SecuredSet {
	return &SecuredSet{seen: map[string]struct{}{}}
}

func (s *SecuredSet) MarkSecured(code string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.seen[code]; ok {
		return
	}
	s.seen[code] = struct{}{}
	s.order = append(s.order, code)
}

func (s *SecuredSet) IsAnyoneSecured() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.order) > 0
}

func (s *SecuredSet) Secured() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.order...)
}
