package ledger

import (
	"encoding/json"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	pkgerrors "github.com/pkg/errors"

	"github.com/opentrade/opentrade/internal/domain"
)

const orderKeyPrefix = "order:"

// Badger 基于 badger 的持久化台账
// 进程内读写一致（read-your-writes），崩溃重启后非终态
// 订单可被执行引擎接管续跑。
type Badger struct {
	db *badger.DB
}

// OpenBadger 打开台账数据库
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "打开订单台账失败 %s", dir)
	}
	return &Badger{db: db}, nil
}

func orderKey(clientOrderID string) []byte {
	return []byte(orderKeyPrefix + clientOrderID)
}

func (l *Badger) Create(order *domain.Order) error {
	key := orderKey(order.ClientOrderID)
	return l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		b, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
}

func (l *Badger) Get(clientOrderID string) (*domain.Order, error) {
	var out *domain.Order
	err := l.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(orderKey(clientOrderID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var o domain.Order
			if err := json.Unmarshal(val, &o); err != nil {
				return err
			}
			out = &o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Badger) Update(order *domain.Order) error {
	key := orderKey(order.ClientOrderID)
	return l.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		var existing domain.Order
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &existing)
		}); err != nil {
			return err
		}
		if err := guardTransition(&existing, order); err != nil {
			return err
		}
		b, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return txn.Set(key, b)
	})
}

func (l *Badger) Open() ([]*domain.Order, error) {
	var out []*domain.Order
	err := l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(orderKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var o domain.Order
				if err := json.Unmarshal(val, &o); err != nil {
					return err
				}
				if !o.Status.IsTerminal() {
					out = append(out, &o)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Badger) Close() error {
	return l.db.Close()
}
