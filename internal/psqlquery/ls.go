package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// Link-state queries. All three ls tables share the (peer_hash_id,hash_id)
// key and the withdraw-preserve semantics on base_attr_hash_id.

const lsConflictBase = "timestamp=excluded.timestamp," +
	"base_attr_hash_id=CASE excluded.iswithdrawn WHEN true THEN %s.base_attr_hash_id ELSE excluded.base_attr_hash_id END," +
	"iswithdrawn=excluded.iswithdrawn"

func lsSuffix(table string, extra string) string {
	return " ON CONFLICT (peer_hash_id,hash_id) DO UPDATE SET " +
		strings.ReplaceAll(lsConflictBase, "%s", table) + extra
}

type LsNodeQuery struct {
	records []models.LsNodeRec
}

func NewLsNodeQuery(records []models.LsNodeRec) *LsNodeQuery {
	return &LsNodeQuery{records: records}
}

func (q *LsNodeQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
		sb.WriteString(uuidOrNull(rec.BaseAttrHash) + ",")
		sb.WriteString(quoted(rec.IGPRouterID) + ",")
		sb.WriteString(quoted(rec.RouterID) + ",")
		sb.WriteString(u32(rec.BGPLsID) + ",")
		sb.WriteString(quoted(rec.OSPFAreaID) + ",")
		sb.WriteString(quoted(rec.ISISAreaID) + ",")
		sb.WriteString(quoted(rec.Protocol) + ",")
		sb.WriteString(quoted(rec.Flags) + ",")
		sb.WriteString(u32(rec.ASN) + ",")
		sb.WriteString(quoted(rec.MTIDs) + ",")
		sb.WriteString(quoted(rec.Name) + ",")
		sb.WriteString(quoted(rec.SRCapabilities) + ",")
		sb.WriteString(boolLit(rec.IsWithdrawn) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO ls_nodes (hash_id,peer_hash_id,base_attr_hash_id," +
			"igp_router_id,router_id,bgp_ls_id,ospf_area_id,isis_area_id,protocol," +
			"flags,asn,mt_ids,name,sr_capabilities,iswithdrawn,timestamp) VALUES ",
		Suffix: lsSuffix("ls_nodes", ",name=excluded.name,flags=excluded.flags," +
			"sr_capabilities=excluded.sr_capabilities"),
		Values: values,
	}
}

type LsLinkQuery struct {
	records []models.LsLinkRec
}

func NewLsLinkQuery(records []models.LsLinkRec) *LsLinkQuery {
	return &LsLinkQuery{records: records}
}

func (q *LsLinkQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
		sb.WriteString(uuidOrNull(rec.BaseAttrHash) + ",")
		sb.WriteString(uuidOrNull(rec.LocalNodeHash) + ",")
		sb.WriteString(uuidOrNull(rec.RemoteNodeHash) + ",")
		sb.WriteString(u32(rec.LocalLinkID) + ",")
		sb.WriteString(u32(rec.RemoteLinkID) + ",")
		sb.WriteString(quoted(rec.InterfaceIP) + ",")
		sb.WriteString(quoted(rec.NeighborIP) + ",")
		sb.WriteString(u32(rec.IGPMetric) + ",")
		sb.WriteString(u32(rec.AdminGroup) + ",")
		sb.WriteString(u32(rec.TEDefaultMetric) + ",")
		sb.WriteString(quoted(rec.LinkName) + ",")
		sb.WriteString(boolLit(rec.IsWithdrawn) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO ls_links (hash_id,peer_hash_id,base_attr_hash_id," +
			"local_node_hash_id,remote_node_hash_id,local_link_id,remote_link_id," +
			"intf_addr,nei_addr,igp_metric,admin_group,te_def_metric,link_name," +
			"iswithdrawn,timestamp) VALUES ",
		Suffix: lsSuffix("ls_links", ",igp_metric=excluded.igp_metric," +
			"te_def_metric=excluded.te_def_metric,link_name=excluded.link_name"),
		Values: values,
	}
}

type LsPrefixQuery struct {
	records []models.LsPrefixRec
}

func NewLsPrefixQuery(records []models.LsPrefixRec) *LsPrefixQuery {
	return &LsPrefixQuery{records: records}
}

func (q *LsPrefixQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.PeerHash) + "::uuid,")
		sb.WriteString(uuidOrNull(rec.BaseAttrHash) + ",")
		sb.WriteString(uuidOrNull(rec.LocalNodeHash) + ",")
		sb.WriteString(quoted(rec.Protocol) + ",")
		sb.WriteString("'" + escape(rec.Prefix) + "/" + u32(rec.PrefixLen) + "'::inet,")
		sb.WriteString(u32(rec.PrefixLen) + ",")
		sb.WriteString(u32(rec.Metric) + ",")
		sb.WriteString(boolLit(rec.IsWithdrawn) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO ls_prefixes (hash_id,peer_hash_id,base_attr_hash_id," +
			"local_node_hash_id,protocol,prefix,prefix_len,metric,iswithdrawn," +
			"timestamp) VALUES ",
		Suffix: lsSuffix("ls_prefixes", ",metric=excluded.metric"),
		Values: values,
	}
}
