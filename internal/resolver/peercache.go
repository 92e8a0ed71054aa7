package resolver

// PeerCache сохраняет разрешённые сущности между рестартами, чтобы
// следующему процессу не пришлось ждать свежего перечисления диалогов,
// прежде чем краулер и discovery смогут обращаться к уже виденным каналам.
// Используется go.etcd.io/bbolt напрямую, а не peers.Manager из
// gotd/contrib, потому что ключом служит нормализованный username/Entity,
// а не внутренняя идентичность пира gotd.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"teleosint/internal/model"
)

var entitiesBucket = []byte("entities")

// PeerCache оборачивает bbolt-базу с ключом по нормализованному username.
type PeerCache struct {
	db *bbolt.DB
}

// OpenPeerCache открывает (при отсутствии — создаёт) bbolt-файл по path.
func OpenPeerCache(path string) (*PeerCache, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("resolver: peer cache dir: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("resolver: open peer cache: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entitiesBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolver: init peer cache bucket: %w", err)
	}
	return &PeerCache{db: db}, nil
}

// Close освобождает файл базы.
func (p *PeerCache) Close() error {
	return p.db.Close()
}

// Save сохраняет e под её нормализованным username. Сущности без username
// некэшируемы и молча пропускаются.
func (p *PeerCache) Save(e model.Entity) error {
	key := e.NormalizedUsername()
	if key == "" {
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("resolver: marshal entity: %w", err)
	}
	return p.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(entitiesBucket).Put([]byte(key), payload)
	})
}

// LoadInto наполняет cache всеми ранее сохранёнными сущностями.
func (p *PeerCache) LoadInto(cache *DialogCache) error {
	return p.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entitiesBucket).ForEach(func(_, v []byte) error {
			var e model.Entity
			if err := json.Unmarshal(v, &e); err != nil {
				// Одна битая запись не должна ломать бутстрап; пропускаем.
				return nil
			}
			cache.Set(e)
			return nil
		})
	})
}
