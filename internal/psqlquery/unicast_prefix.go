package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// UnicastPrefixQuery upserts unicast NLRI into unicast_rib. On a withdraw
// the columns describing the live path (base_attr_hash_id, origin_as) are
// preserved from the stored row so the last-known attribute reference
// survives the withdrawal.
type UnicastPrefixQuery struct {
	records []models.UnicastPrefixRec
}

func NewUnicastPrefixQuery(records []models.UnicastPrefixRec) *UnicastPrefixQuery {
	return &UnicastPrefixQuery{records: records}
}

func unicastTuple(rec *models.UnicastPrefixRec) string {
	var sb strings.Builder
	sb.WriteByte('(')
	sb.WriteString(quoted(rec.Hash) + "::uuid,")
	sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
	sb.WriteString(uuidOrNull(rec.BaseAttrHash) + ",")
	sb.WriteString(boolLit(rec.IsIPv4) + ",")
	sb.WriteString(u32(rec.OriginAS) + ",")
	sb.WriteString("'" + escape(rec.Prefix) + "/" + u32(rec.PrefixLen) + "'::inet,")
	sb.WriteString(u32(rec.PrefixLen) + ",")
	sb.WriteString(tsLit(rec.Timestamp) + ",")
	sb.WriteString(boolLit(rec.IsWithdrawn) + ",")
	sb.WriteString(u32(rec.PathID) + ",")
	sb.WriteString(quoted(rec.Labels) + ",")
	sb.WriteString(boolLit(rec.IsPrePolicy) + ",")
	sb.WriteString(boolLit(rec.IsAdjRIBIn))
	sb.WriteByte(')')
	return sb.String()
}

const nlriConflictSet = " ON CONFLICT (peer_hash_id,hash_id) DO UPDATE SET timestamp=excluded.timestamp," +
	"base_attr_hash_id=CASE excluded.iswithdrawn WHEN true THEN %s.base_attr_hash_id ELSE excluded.base_attr_hash_id END," +
	"origin_as=CASE excluded.iswithdrawn WHEN true THEN %s.origin_as ELSE excluded.origin_as END," +
	"iswithdrawn=excluded.iswithdrawn," +
	"path_id=excluded.path_id,labels=excluded.labels," +
	"isprepolicy=excluded.isprepolicy,isadjribin=excluded.isadjribin"

func nlriSuffix(table string, extra string) string {
	return strings.ReplaceAll(nlriConflictSet, "%s", table) + extra
}

func (q *UnicastPrefixQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))
	for i := range q.records {
		rec := &q.records[i]
		values[rec.Hash] = unicastTuple(rec)
	}

	return &BulkQuery{
		Prefix: "INSERT INTO unicast_rib (hash_id,peer_hash_id,base_attr_hash_id,isipv4," +
			"origin_as,prefix,prefix_len,timestamp,iswithdrawn,path_id,labels," +
			"isprepolicy,isadjribin) VALUES ",
		Suffix: nlriSuffix("unicast_rib", ""),
		Values: values,
	}
}
