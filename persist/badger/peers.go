package badger

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/peers"
	"go.uber.org/zap"
)

const peerKeyPrefix = "peer/"

type peerValue struct {
	SentInterests uint64 `json:"sentInterests"`
	ReceivedData  uint64 `json:"receivedData"`
}

// Peers returns every persisted peer record.
func (s *Store) Peers() (records []peers.Record, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(peerKeyPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			name, err := ndn.ParseName(key[len(peerKeyPrefix):])
			if err != nil {
				s.log.Error("failed to parse peer name", zap.String("key", key))
				continue
			}
			var v peerValue
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			}); err != nil {
				return fmt.Errorf("failed to decode peer %s: %w", key, err)
			}
			records = append(records, peers.Record{
				Name:          name,
				SentInterests: v.SentInterests,
				ReceivedData:  v.ReceivedData,
			})
		}
		return nil
	})
	return
}

// UpdatePeers writes the given peer records, overwriting existing counters.
func (s *Store) UpdatePeers(records []peers.Record) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			buf, err := json.Marshal(peerValue{
				SentInterests: r.SentInterests,
				ReceivedData:  r.ReceivedData,
			})
			if err != nil {
				return err
			} else if err := txn.Set([]byte(peerKeyPrefix+r.Name.String()), buf); err != nil {
				return err
			}
		}
		return nil
	})
}
