package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// ribTables are the NLRI tables that carry a peer_hash_id and need their
// rows withdrawn when the owning peer goes down.
var ribTables = []string{"unicast_rib", "l3vpn_rib", "ls_nodes", "ls_links", "ls_prefixes"}

// PeerQuery upserts peer inventory records.
type PeerQuery struct {
	records []models.PeerRec
}

func NewPeerQuery(records []models.PeerRec) *PeerQuery {
	return &PeerQuery{records: records}
}

func peerState(action string) string {
	if action == "down" {
		return "down"
	}
	return "up"
}

func (q *PeerQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.RouterHash) + "::uuid,")
		sb.WriteString(quoted(rec.PeerRD) + ",")
		sb.WriteString(boolLit(rec.IsIPv4) + ",")
		sb.WriteString(quoted(rec.RemoteIP) + "::inet,")
		sb.WriteString(quoted(rec.Name) + ",")
		sb.WriteString(quoted(rec.RemoteBGPID) + ",")
		sb.WriteString(u32(rec.RemoteASN) + ",")
		sb.WriteString(quoted(peerState(rec.Action)) + ",")
		sb.WriteString(boolLit(rec.IsL3VPN) + ",")
		sb.WriteString(boolLit(rec.IsPrePolicy) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO peers (hash_id,router_hash_id,peer_rd,isipv4,peer_addr," +
			"name,peer_bgp_id,peer_asn,state,isl3vpnpeer,isprepolicy,timestamp) VALUES ",
		Suffix: " ON CONFLICT (hash_id) DO UPDATE SET router_hash_id=excluded.router_hash_id," +
			"peer_rd=excluded.peer_rd,name=excluded.name,peer_bgp_id=excluded.peer_bgp_id," +
			"peer_asn=excluded.peer_asn,state=excluded.state,timestamp=excluded.timestamp",
		Values: values,
	}
}

// GenRibPeerUpdate cascades a down peer onto its RIB entries: one UPDATE
// per NLRI table marking the peer's live rows withdrawn. An unchanged or
// up peer generates nothing, so re-ingesting it does not touch its RIB.
func (q *PeerQuery) GenRibPeerUpdate() []string {
	var down []string
	ts := ""
	for _, rec := range q.records {
		if rec.Action == "down" {
			down = append(down, quoted(rec.Hash)+"::uuid")
			ts = rec.Timestamp
		}
	}
	if len(down) == 0 {
		return nil
	}

	in := strings.Join(down, ",")
	stmts := make([]string, 0, len(ribTables))
	for _, table := range ribTables {
		stmts = append(stmts,
			"UPDATE "+table+" SET iswithdrawn = true, timestamp = "+tsLit(ts)+
				" WHERE iswithdrawn = false AND peer_hash_id IN ("+in+")")
	}
	return stmts
}
