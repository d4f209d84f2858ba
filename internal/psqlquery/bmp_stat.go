package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// BmpStatQuery inserts BMP statistics reports. Stats rows have no hash of
// their own; the conflation key is peer hash plus report timestamp, which
// is also the table's primary key.
type BmpStatQuery struct {
	records []models.BmpStatRec
}

func NewBmpStatQuery(records []models.BmpStatRec) *BmpStatQuery {
	return &BmpStatQuery{records: records}
}

func (q *BmpStatQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
		sb.WriteString(tsLit(rec.Timestamp) + ",")
		sb.WriteString(i64(rec.PrefixesRejected) + ",")
		sb.WriteString(i64(rec.KnownDupPrefixes) + ",")
		sb.WriteString(i64(rec.KnownDupWithdraws) + ",")
		sb.WriteString(i64(rec.InvalidClusterList) + ",")
		sb.WriteString(i64(rec.InvalidASPathLoop) + ",")
		sb.WriteString(i64(rec.InvalidOriginatorID) + ",")
		sb.WriteString(i64(rec.InvalidASConfedLoop) + ",")
		sb.WriteString(i64(rec.RoutesAdjRIBIn) + ",")
		sb.WriteString(i64(rec.RoutesLocRIB))
		sb.WriteByte(')')

		values[rec.PeerHash+"|"+rec.Timestamp] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO bmp_stats (peer_hash_id,timestamp,prefixes_rejected," +
			"known_dup_prefixes,known_dup_withdraws,updates_invalid_by_cluster_list," +
			"updates_invalid_by_as_path_loop,updates_invalid_by_originator_id," +
			"updates_invalid_by_as_confed_loop,num_routes_adj_rib_in," +
			"num_routes_local_rib) VALUES ",
		Suffix: " ON CONFLICT (peer_hash_id,timestamp) DO NOTHING",
		Values: values,
	}
}
