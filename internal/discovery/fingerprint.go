package discovery

import (
	"fmt"
	"sort"

	"github.com/minio/highwayhash"

	"lineage-analyzer/internal/adapter"
)

var fingerprintKey = []byte("lineage-analyzer-snapshot-key-01")

// Fingerprint 快照内容摘要，元数据不变时摘要不变
func Fingerprint(snap *adapter.Snapshot) (string, error) {
	h, err := highwayhash.New64(fingerprintKey)
	if err != nil {
		return "", err
	}
	cols := append([]adapter.Column(nil), snap.Columns...)
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
	for _, c := range cols {
		var rows, distinct int64
		if c.Stats != nil {
			rows, distinct = c.Stats.RowCount, c.Stats.DistinctCount
		}
		fmt.Fprintf(h, "%s|%s|%t|%t|%d|%d\n", c.ID, c.DataType, c.IsPrimaryKey, c.IsPII, rows, distinct)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
