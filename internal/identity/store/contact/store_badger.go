package contact

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"reconciler/internal/identity/models"
	"reconciler/internal/platform/config"
	id "reconciler/pkg/domain"
	"reconciler/pkg/platform/sentinel"
	txcontext "reconciler/pkg/platform/tx"
)

// Key prefixes. Index keys end with the 8-byte big-endian contact ID.
const (
	prefixContact    byte = 0x01 // contact ID -> JSON contact
	prefixEmailIndex byte = 0x02 // email + 0x00 + contact ID
	prefixPhoneIndex byte = 0x03 // phone + 0x00 + contact ID
	prefixLinkIndex  byte = 0x04 // root ID + contact ID
	prefixLock       byte = 0x05 // identifier key
	prefixSequence   byte = 0x06
)

const sequenceBandwidth = 64

// BadgerStore persists contacts in an embedded BadgerDB with secondary
// indexes for identifiers and links. Soft-deleted contacts keep their record
// but are dropped from every index.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// createMu pairs ID allocation with the CreatedAt stamp so both follow
	// the same order.
	createMu    sync.Mutex
	lastCreated time.Time
}

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg config.BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	seq, err := db.GetSequence([]byte{prefixSequence}, sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("contact id sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		_ = s.db.Close()
		return fmt.Errorf("release contact id sequence: %w", err)
	}
	return s.db.Close()
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if txn, ok := txcontext.From[badger.Txn](ctx); ok {
		return fn(txn)
	}
	return s.db.View(fn)
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if txn, ok := txcontext.From[badger.Txn](ctx); ok {
		return fn(txn)
	}
	return s.db.Update(fn)
}

func encodeID(v id.ContactID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func contactKey(v id.ContactID) []byte {
	return append([]byte{prefixContact}, encodeID(v)...)
}

func valueIndexPrefix(prefix byte, value string) []byte {
	key := make([]byte, 0, 1+len(value)+1)
	key = append(key, prefix)
	key = append(key, value...)
	return append(key, 0x00)
}

func valueIndexKey(prefix byte, value string, contactID id.ContactID) []byte {
	return append(valueIndexPrefix(prefix, value), encodeID(contactID)...)
}

func linkIndexPrefix(rootID id.ContactID) []byte {
	return append([]byte{prefixLinkIndex}, encodeID(rootID)...)
}

func linkIndexKey(rootID, contactID id.ContactID) []byte {
	return append(linkIndexPrefix(rootID), encodeID(contactID)...)
}

func lockKey(key string) []byte {
	return append([]byte{prefixLock}, key...)
}

// idFromIndexKey reads the trailing contact ID of an index key.
func idFromIndexKey(key []byte) id.ContactID {
	if len(key) < 8 {
		return 0
	}
	return id.ContactID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func encodeContact(c *models.Contact) ([]byte, error) {
	return json.Marshal(c)
}

func decodeContact(data []byte) (*models.Contact, error) {
	var c models.Contact
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if _, err := models.ParseRole(string(c.Role)); err != nil {
		return nil, err
	}
	return &c, nil
}

func getContact(txn *badger.Txn, contactID id.ContactID) (*models.Contact, error) {
	item, err := txn.Get(contactKey(contactID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	var c *models.Contact
	err = item.Value(func(val []byte) error {
		var decodeErr error
		c, decodeErr = decodeContact(val)
		return decodeErr
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func putContact(txn *badger.Txn, c *models.Contact) error {
	data, err := encodeContact(c)
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}
	return txn.Set(contactKey(c.ID), data)
}

// scanIDs collects the contact IDs of every index key under prefix.
func scanIDs(txn *badger.Txn, prefix []byte) []id.ContactID {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []id.ContactID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, idFromIndexKey(it.Item().KeyCopy(nil)))
	}
	return ids
}

func loadLive(txn *badger.Txn, ids []id.ContactID) ([]*models.Contact, error) {
	seen := make(map[id.ContactID]struct{}, len(ids))
	out := make([]*models.Contact, 0, len(ids))
	for _, cid := range ids {
		if _, dup := seen[cid]; dup {
			continue
		}
		seen[cid] = struct{}{}
		c, err := getContact(txn, cid)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.IsDeleted() {
			continue
		}
		out = append(out, c)
	}
	sortContacts(out)
	return out, nil
}

func (s *BadgerStore) FindByIdentifiers(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(txn *badger.Txn) error {
		var ids []id.ContactID
		if email != nil {
			ids = append(ids, scanIDs(txn, valueIndexPrefix(prefixEmailIndex, *email))...)
		}
		if phone != nil {
			ids = append(ids, scanIDs(txn, valueIndexPrefix(prefixPhoneIndex, *phone))...)
		}
		var err error
		out, err = loadLive(txn, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find contacts by identifiers: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) FindByRootOrID(ctx context.Context, rootID id.ContactID) ([]*models.Contact, error) {
	var out []*models.Contact
	err := s.view(ctx, func(txn *badger.Txn) error {
		ids := append([]id.ContactID{rootID}, scanIDs(txn, linkIndexPrefix(rootID))...)
		var err error
		out, err = loadLive(txn, ids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find contacts by root: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) FindByID(ctx context.Context, contactID id.ContactID) (*models.Contact, error) {
	var c *models.Contact
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		c, err = getContact(txn, contactID)
		if err != nil {
			return err
		}
		if c.IsDeleted() {
			return sentinel.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *BadgerStore) Create(ctx context.Context, nc models.NewContact) (*models.Contact, error) {
	c, err := s.allocate(nc)
	if err != nil {
		return nil, err
	}

	err = s.update(ctx, func(txn *badger.Txn) error {
		if err := putContact(txn, c); err != nil {
			return err
		}
		return setIndexes(txn, c)
	})
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return c, nil
}

func (s *BadgerStore) allocate(nc models.NewContact) (*models.Contact, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	next, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("next contact id: %w", err)
	}
	if nc.CreatedAt.IsZero() {
		nc.CreatedAt = time.Now()
		if nc.CreatedAt.Before(s.lastCreated) {
			nc.CreatedAt = s.lastCreated
		}
		s.lastCreated = nc.CreatedAt
	}
	return nc.Build(id.ContactID(next + 1)), nil
}

func setIndexes(txn *badger.Txn, c *models.Contact) error {
	if c.Email != nil {
		if err := txn.Set(valueIndexKey(prefixEmailIndex, *c.Email, c.ID), []byte{}); err != nil {
			return err
		}
	}
	if c.PhoneNumber != nil {
		if err := txn.Set(valueIndexKey(prefixPhoneIndex, *c.PhoneNumber, c.ID), []byte{}); err != nil {
			return err
		}
	}
	if c.LinkedID != nil {
		if err := txn.Set(linkIndexKey(*c.LinkedID, c.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func deleteIndexes(txn *badger.Txn, c *models.Contact) error {
	if c.Email != nil {
		if err := txn.Delete(valueIndexKey(prefixEmailIndex, *c.Email, c.ID)); err != nil {
			return err
		}
	}
	if c.PhoneNumber != nil {
		if err := txn.Delete(valueIndexKey(prefixPhoneIndex, *c.PhoneNumber, c.ID)); err != nil {
			return err
		}
	}
	if c.LinkedID != nil {
		if err := txn.Delete(linkIndexKey(*c.LinkedID, c.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Update(ctx context.Context, contactID id.ContactID, update models.ContactUpdate) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		c, err := getContact(txn, contactID)
		if err != nil {
			return err
		}
		if c.IsDeleted() {
			return sentinel.ErrNotFound
		}
		if c.LinkedID != nil {
			if err := txn.Delete(linkIndexKey(*c.LinkedID, c.ID)); err != nil {
				return err
			}
		}
		c.LinkedID = cloneID(update.LinkedID)
		c.Role = update.Role
		c.UpdatedAt = stamp(update.UpdatedAt)
		if c.LinkedID != nil {
			if err := txn.Set(linkIndexKey(*c.LinkedID, c.ID), []byte{}); err != nil {
				return err
			}
		}
		return putContact(txn, c)
	})
}

func (s *BadgerStore) RewriteLinks(ctx context.Context, oldRootID, newRootID id.ContactID, now time.Time) (int64, error) {
	var n int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		for _, cid := range scanIDs(txn, linkIndexPrefix(oldRootID)) {
			c, err := getContact(txn, cid)
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if c.IsDeleted() {
				continue
			}
			if err := txn.Delete(linkIndexKey(oldRootID, cid)); err != nil {
				return err
			}
			c.ApplyRelink(newRootID, stamp(now))
			if err := txn.Set(linkIndexKey(newRootID, cid), []byte{}); err != nil {
				return err
			}
			if err := putContact(txn, c); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rewrite contact links: %w", err)
	}
	return n, nil
}

func (s *BadgerStore) SoftDelete(ctx context.Context, contactID id.ContactID, now time.Time) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		c, err := getContact(txn, contactID)
		if err != nil {
			return err
		}
		if c.IsDeleted() {
			return sentinel.ErrNotFound
		}
		if err := deleteIndexes(txn, c); err != nil {
			return err
		}
		deletedAt := stamp(now)
		c.DeletedAt = &deletedAt
		c.UpdatedAt = deletedAt
		return putContact(txn, c)
	})
}

// BadgerTx runs a reconciliation in one read-write badger transaction. Each
// identifier key is read and rewritten so that overlapping calls conflict on
// commit; conflicts are retried up to maxRetries times.
type BadgerTx struct {
	store      *BadgerStore
	timeout    time.Duration
	maxRetries int
}

func NewBadgerTx(store *BadgerStore, timeout time.Duration) *BadgerTx {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &BadgerTx{store: store, timeout: timeout, maxRetries: defaultMaxRetries}
}

func (t *BadgerTx) RunInTx(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if txcontext.Active[badger.Txn](ctx) {
		return fn(ctx)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var err error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = t.runOnce(ctx, keys, fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
}

func (t *BadgerTx) runOnce(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	txn := t.store.db.NewTransaction(true)
	defer txn.Discard()

	for _, key := range keys {
		k := lockKey(key)
		if _, err := txn.Get(k); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read identifier lock: %w", err)
		}
		if err := txn.Set(k, []byte{1}); err != nil {
			return fmt.Errorf("write identifier lock: %w", err)
		}
	}

	if err := fn(txcontext.With(ctx, txn)); err != nil {
		return err
	}
	return txn.Commit()
}
