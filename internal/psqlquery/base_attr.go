package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// BaseAttributeQuery upserts base path attribute sets. Attributes are
// content-addressed by hash, so a conflict only refreshes the timestamp.
type BaseAttributeQuery struct {
	records []models.BaseAttrRec
}

func NewBaseAttributeQuery(records []models.BaseAttrRec) *BaseAttributeQuery {
	return &BaseAttributeQuery{records: records}
}

func (q *BaseAttributeQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
		sb.WriteString(quoted(rec.Origin) + ",")
		sb.WriteString(quoted(rec.ASPath) + ",")
		sb.WriteString(u32(rec.ASPathCount) + ",")
		sb.WriteString(u32(rec.OriginAS) + ",")
		sb.WriteString(quoted(rec.NextHop) + "::inet,")
		sb.WriteString(u32(rec.MED) + ",")
		sb.WriteString(u32(rec.LocalPref) + ",")
		sb.WriteString(quoted(rec.Aggregator) + ",")
		sb.WriteString(quoted(rec.CommunityList) + ",")
		sb.WriteString(psqlArray(rec.ExtCommunityList) + ",")
		sb.WriteString(quoted(rec.ClusterList) + ",")
		sb.WriteString(boolLit(rec.IsAtomicAgg) + ",")
		sb.WriteString(boolLit(rec.IsNextHopIPv4) + ",")
		sb.WriteString(quoted(rec.OriginatorID) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO base_attrs (hash_id,peer_hash_id,origin,as_path," +
			"as_path_count,origin_as,next_hop,med,local_pref,aggregator," +
			"community_list,ext_community_list,cluster_list,isatomicagg," +
			"nexthop_isipv4,originator_id,timestamp) VALUES ",
		Suffix: " ON CONFLICT (hash_id) DO UPDATE SET timestamp=excluded.timestamp",
		Values: values,
	}
}
