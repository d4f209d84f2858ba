package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// RouterQuery upserts router inventory records. The collector hash comes
// from the message header, not the row.
type RouterQuery struct {
	collectorHash string
	records       []models.RouterRec
}

func NewRouterQuery(collectorHash string, records []models.RouterRec) *RouterQuery {
	return &RouterQuery{collectorHash: collectorHash, records: records}
}

func routerState(action string) string {
	if action == "term" {
		return "down"
	}
	return "up"
}

func (q *RouterQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(rec.Name) + ",")
		sb.WriteString(quoted(rec.IPAddress) + "::inet,")
		sb.WriteString(quoted(rec.Descr) + ",")
		sb.WriteString(quoted(routerState(rec.Action)) + ",")
		sb.WriteString(u32(rec.TermCode) + ",")
		sb.WriteString(quoted(rec.TermReason) + ",")
		sb.WriteString(uuidOrNull(q.collectorHash) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO routers (hash_id,name,ip_address,description,state," +
			"term_reason_code,term_reason_text,collector_hash_id,timestamp) VALUES ",
		Suffix: " ON CONFLICT (hash_id) DO UPDATE SET name=excluded.name," +
			"description=excluded.description,state=excluded.state," +
			"term_reason_code=excluded.term_reason_code," +
			"term_reason_text=excluded.term_reason_text," +
			"collector_hash_id=excluded.collector_hash_id,timestamp=excluded.timestamp",
		Values: values,
	}
}

// GenPeerRouterUpdate cascades router terminations onto peers. A router
// that still has another live connection (per the cache's up-count) keeps
// its peers up.
func (q *RouterQuery) GenPeerRouterUpdate(upCounts map[string]int) string {
	var down []string
	ts := ""
	for _, rec := range q.records {
		if rec.Action != "term" {
			continue
		}
		if upCounts[rec.Hash] > 1 {
			continue
		}
		down = append(down, quoted(rec.Hash)+"::uuid")
		ts = rec.Timestamp
	}
	if len(down) == 0 {
		return ""
	}

	return "UPDATE peers SET state = 'down', timestamp = " + tsLit(ts) +
		" WHERE state = 'up' AND router_hash_id IN (" + strings.Join(down, ",") + ")"
}
