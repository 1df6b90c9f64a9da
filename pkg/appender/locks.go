package appender

import "sync"

// TenantLocks is the per-tenant append serialization point. Appends to
// the same tenant queue behind one mutex; different tenants never
// block each other. The retention purge takes the same lock before
// rewriting an entry so redaction and append cannot interleave.
type TenantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTenantLocks() *TenantLocks {
	return &TenantLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *TenantLocks) get(tenant string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[tenant]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenant] = m
	}
	return m
}

// Do runs fn while holding the tenant's exclusive section.
func (l *TenantLocks) Do(tenant string, fn func() error) error {
	m := l.get(tenant)
	m.Lock()
	defer m.Unlock()
	return fn()
}
