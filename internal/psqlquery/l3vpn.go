package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// L3VpnPrefixQuery upserts L3VPN NLRI into l3vpn_rib. Same withdraw
// semantics as unicast_rib, plus the route distinguisher and extended
// community columns.
type L3VpnPrefixQuery struct {
	records []models.L3VpnPrefixRec
}

func NewL3VpnPrefixQuery(records []models.L3VpnPrefixRec) *L3VpnPrefixQuery {
	return &L3VpnPrefixQuery{records: records}
}

func (q *L3VpnPrefixQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for i := range q.records {
		rec := &q.records[i]

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
		sb.WriteString(boolLit(rec.IsAdjRIBIn) + ",")
		sb.WriteString(quoted(rec.RD) + ",")
		sb.WriteString(psqlArray(rec.ExtCommunityList))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO l3vpn_rib (hash_id,peer_hash_id,base_attr_hash_id,isipv4," +
			"origin_as,prefix,prefix_len,timestamp,iswithdrawn,path_id,labels," +
			"isprepolicy,isadjribin,rd,ext_community_list) VALUES ",
		Suffix: nlriSuffix("l3vpn_rib",
			",rd=excluded.rd,ext_community_list=excluded.ext_community_list"),
		Values: values,
	}
}
