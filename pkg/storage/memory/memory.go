// pkg/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

/*
Process-local implementation of every lti storage port.

Records are copied on the way in and out, so callers never share state with
the store. It is safe for concurrent use; Atomically serializes against all
other calls and applies its writes only when fn succeeds.
*/

type linkKey struct{ consumer, id string }

type userKey struct{ consumer, link, user string }

type nonceKey struct{ consumer, value string }

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	// mu is nil inside a transaction, where the parent already holds it.
	mu *sync.Mutex

	consumers map[string]lti.ToolConsumer
	links     map[linkKey]lti.ResourceLink
	users     map[userKey]lti.User
	shareKeys map[string]lti.ShareKey
	nonces    map[nonceKey]time.Time

	// Now stamps records and decides expiry. Defaults to time.Now.
	Now func() time.Time
}

var _ lti.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		mu:        &sync.Mutex{},
		consumers: map[string]lti.ToolConsumer{},
		links:     map[linkKey]lti.ResourceLink{},
		users:     map[userKey]lti.User{},
		shareKeys: map[string]lti.ShareKey{},
		nonces:    map[nonceKey]time.Time{},
	}
}

func (s *Store) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Atomically runs fn against a copy of the store and keeps the copy only if
// fn returns nil.
func (s *Store) Atomically(ctx context.Context, fn func(lti.Store) error) error {
	defer s.lock()()
	tx := s.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.consumers, s.links, s.users, s.shareKeys, s.nonces = tx.consumers, tx.links, tx.users, tx.shareKeys, tx.nonces
	return nil
}

func (s *Store) clone() *Store {
	tx := &Store{
		consumers: make(map[string]lti.ToolConsumer, len(s.consumers)),
		links:     make(map[linkKey]lti.ResourceLink, len(s.links)),
		users:     make(map[userKey]lti.User, len(s.users)),
		shareKeys: make(map[string]lti.ShareKey, len(s.shareKeys)),
		nonces:    make(map[nonceKey]time.Time, len(s.nonces)),
		Now:       s.Now,
	}
	for k, v := range s.consumers {
		tx.consumers[k] = v
	}
	for k, v := range s.links {
		tx.links[k] = v
	}
	for k, v := range s.users {
		tx.users[k] = v
	}
	for k, v := range s.shareKeys {
		tx.shareKeys[k] = v
	}
	for k, v := range s.nonces {
		tx.nonces[k] = v
	}
	return tx
}

/* ------------------------------ consumers ------------------------------ */

func (s *Store) LoadToolConsumer(_ context.Context, key string) (*lti.ToolConsumer, error) {
	defer s.lock()()
	c, ok := s.consumers[key]
	if !ok {
		return nil, lti.ErrNotFound
	}
	return copyConsumer(c), nil
}

func (s *Store) SaveToolConsumer(_ context.Context, c *lti.ToolConsumer) error {
	defer s.lock()()
	now := s.now()
	if c.Created == nil {
		c.Created = &now
	}
	c.Updated = &now
	s.consumers[c.Key] = *copyConsumer(*c)
	return nil
}

// DeleteToolConsumer removes the consumer and everything hanging off it.
func (s *Store) DeleteToolConsumer(_ context.Context, key string) error {
	defer s.lock()()
	for k := range s.nonces {
		if k.consumer == key {
			delete(s.nonces, k)
		}
	}
	for id, sk := range s.shareKeys {
		if sk.PrimaryConsumerKey == key {
			delete(s.shareKeys, id)
		}
	}
	for k := range s.users {
		if k.consumer == key {
			delete(s.users, k)
		}
	}
	for k, l := range s.links {
		if l.PrimaryConsumerKey == key {
			l.PrimaryConsumerKey, l.PrimaryResourceLinkID = "", ""
			s.links[k] = l
		}
	}
	for k := range s.links {
		if k.consumer == key {
			delete(s.links, k)
		}
	}
	if _, ok := s.consumers[key]; !ok {
		return lti.ErrNotFound
	}
	delete(s.consumers, key)
	return nil
}

func (s *Store) ListToolConsumers(_ context.Context) ([]*lti.ToolConsumer, error) {
	defer s.lock()()
	out := make([]*lti.ToolConsumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, copyConsumer(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

/* ---------------------------- resource links ---------------------------- */

func (s *Store) LoadResourceLink(_ context.Context, consumerKey, id string) (*lti.ResourceLink, error) {
	defer s.lock()()
	l, ok := s.links[linkKey{consumerKey, id}]
	if !ok {
		return nil, lti.ErrNotFound
	}
	return copyLink(l), nil
}

func (s *Store) SaveResourceLink(_ context.Context, l *lti.ResourceLink) error {
	defer s.lock()()
	now := s.now()
	if l.Created == nil {
		l.Created = &now
	}
	l.Updated = &now
	s.links[linkKey{l.ConsumerKey, l.ID}] = *copyLink(*l)
	return nil
}

// DeleteResourceLink removes the link, its users and its share keys, and
// detaches links sharing it.
func (s *Store) DeleteResourceLink(_ context.Context, l *lti.ResourceLink) error {
	defer s.lock()()
	for id, sk := range s.shareKeys {
		if sk.PrimaryConsumerKey == l.ConsumerKey && sk.PrimaryResourceLinkID == l.ID {
			delete(s.shareKeys, id)
		}
	}
	for k := range s.users {
		if k.consumer == l.ConsumerKey && k.link == l.ID {
			delete(s.users, k)
		}
	}
	for k, other := range s.links {
		if other.PrimaryConsumerKey == l.ConsumerKey && other.PrimaryResourceLinkID == l.ID {
			other.PrimaryConsumerKey, other.PrimaryResourceLinkID = "", ""
			s.links[k] = other
		}
	}
	delete(s.links, linkKey{l.ConsumerKey, l.ID})
	l.Created, l.Updated = nil, nil
	return nil
}

func (s *Store) UserResultSourcedIDs(_ context.Context, l *lti.ResourceLink, localOnly bool, scope lti.IDScope) (map[string]*lti.User, error) {
	defer s.lock()()
	out := map[string]*lti.User{}
	for k, u := range s.users {
		owner, ok := s.links[linkKey{k.consumer, k.link}]
		if !ok {
			continue
		}
		own := owner.ConsumerKey == l.ConsumerKey && owner.ID == l.ID && !owner.HasPrimary()
		shared := !localOnly && owner.PrimaryConsumerKey == l.ConsumerKey &&
			owner.PrimaryResourceLinkID == l.ID && owner.IsShareApproved()
		if !own && !shared {
			continue
		}
		cp := u
		cp.Link = copyLink(owner)
		out[cp.ScopedID(scope)] = &cp
	}
	return out, nil
}

func (s *Store) ResourceLinkShares(_ context.Context, l *lti.ResourceLink) ([]lti.ResourceLinkShare, error) {
	defer s.lock()()
	var out []lti.ResourceLinkShare
	for _, other := range s.links {
		if other.PrimaryConsumerKey == l.ConsumerKey && other.PrimaryResourceLinkID == l.ID {
			out = append(out, lti.ResourceLinkShare{
				ConsumerKey:    other.ConsumerKey,
				ResourceLinkID: other.ID,
				Title:          other.Title,
				Approved:       other.IsShareApproved(),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsumerKey != out[j].ConsumerKey {
			return out[i].ConsumerKey < out[j].ConsumerKey
		}
		return out[i].ResourceLinkID < out[j].ResourceLinkID
	})
	return out, nil
}

/* --------------------------------- users -------------------------------- */

func (s *Store) LoadUser(_ context.Context, l *lti.ResourceLink, id string) (*lti.User, error) {
	defer s.lock()()
	u, ok := s.users[userKey{l.ConsumerKey, l.ID, id}]
	if !ok {
		return nil, lti.ErrNotFound
	}
	cp := u
	cp.Roles = append([]string(nil), u.Roles...)
	cp.Groups = append([]string(nil), u.Groups...)
	cp.Link = l
	return &cp, nil
}

// SaveUser only stores users holding a result sourcedid.
func (s *Store) SaveUser(_ context.Context, u *lti.User) error {
	if u.LTIResultSourcedID == "" {
		return nil
	}
	defer s.lock()()
	now := s.now()
	if u.Created == nil {
		u.Created = &now
	}
	u.Updated = &now
	cp := *u
	cp.Link = nil
	cp.Roles = append([]string(nil), u.Roles...)
	cp.Groups = append([]string(nil), u.Groups...)
	s.users[userKey{u.Link.ConsumerKey, u.Link.ID, u.ID}] = cp
	return nil
}

func (s *Store) DeleteUser(_ context.Context, u *lti.User) error {
	defer s.lock()()
	delete(s.users, userKey{u.Link.ConsumerKey, u.Link.ID, u.ID})
	u.LTIResultSourcedID = ""
	u.Created, u.Updated = nil, nil
	return nil
}

/* ------------------------------ share keys ------------------------------ */

func (s *Store) LoadShareKey(_ context.Context, id string) (*lti.ShareKey, error) {
	defer s.lock()()
	now := s.now()
	for k, sk := range s.shareKeys {
		if sk.Expired(now) {
			delete(s.shareKeys, k)
		}
	}
	sk, ok := s.shareKeys[id]
	if !ok {
		return nil, lti.ErrNotFound
	}
	return &sk, nil
}

func (s *Store) SaveShareKey(_ context.Context, k *lti.ShareKey) error {
	defer s.lock()()
	s.shareKeys[k.ID] = *k
	return nil
}

func (s *Store) DeleteShareKey(_ context.Context, id string) error {
	defer s.lock()()
	delete(s.shareKeys, id)
	return nil
}

/* -------------------------------- nonces -------------------------------- */

func (s *Store) LoadNonce(_ context.Context, consumerKey, value string) (bool, error) {
	defer s.lock()()
	s.purgeNoncesLocked(s.now())
	_, ok := s.nonces[nonceKey{consumerKey, value}]
	return ok, nil
}

func (s *Store) SaveNonce(_ context.Context, n lti.Nonce) error {
	defer s.lock()()
	s.nonces[nonceKey{n.ConsumerKey, n.Value}] = n.ExpiresAt
	return nil
}

func (s *Store) CheckAndRecordNonce(_ context.Context, n lti.Nonce) (bool, error) {
	defer s.lock()()
	now := s.now()
	s.purgeNoncesLocked(now)
	k := nonceKey{n.ConsumerKey, n.Value}
	if _, ok := s.nonces[k]; ok {
		return true, nil
	}
	s.nonces[k] = n.ExpiresAt
	return false, nil
}

func (s *Store) purgeNoncesLocked(now time.Time) {
	for k, until := range s.nonces {
		if !until.After(now) {
			delete(s.nonces, k)
		}
	}
}

/* -------------------------------- copies -------------------------------- */

func copyConsumer(c lti.ToolConsumer) *lti.ToolConsumer {
	c.EnableFrom = copyTime(c.EnableFrom)
	c.EnableUntil = copyTime(c.EnableUntil)
	c.LastAccess = copyTime(c.LastAccess)
	c.Created = copyTime(c.Created)
	c.Updated = copyTime(c.Updated)
	return &c
}

func copyLink(l lti.ResourceLink) *lti.ResourceLink {
	settings := make(map[string]any, len(l.Settings))
	for k, v := range l.Settings {
		settings[k] = v
	}
	l.Settings = settings
	if l.GroupSets != nil {
		sets := make(map[string]lti.GroupSet, len(l.GroupSets))
		for k, v := range l.GroupSets {
			v.Groups = append([]string(nil), v.Groups...)
			sets[k] = v
		}
		l.GroupSets = sets
	}
	if l.Groups != nil {
		groups := make(map[string]lti.Group, len(l.Groups))
		for k, v := range l.Groups {
			groups[k] = v
		}
		l.Groups = groups
	}
	if l.ShareApproved != nil {
		v := *l.ShareApproved
		l.ShareApproved = &v
	}
	l.Created = copyTime(l.Created)
	l.Updated = copyTime(l.Updated)
	return &l
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
