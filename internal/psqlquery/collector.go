package psqlquery

import (
	"strings"

	"bgpdata-consumer-go/internal/models"
)

// CollectorQuery upserts collector heartbeats and state changes.
type CollectorQuery struct {
	records []models.CollectorRec
}

func NewCollectorQuery(records []models.CollectorRec) *CollectorQuery {
	return &CollectorQuery{records: records}
}

func (q *CollectorQuery) Bulk() *BulkQuery {
	values := make(map[string]string, len(q.records))

	for _, rec := range q.records {
		state := "up"
		if rec.Action == "stopped" {
			state = "down"
		}

		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(quoted(rec.Hash) + "::uuid,")
		sb.WriteString(quoted(state) + ",")
		sb.WriteString(quoted(rec.AdminID) + ",")
		sb.WriteString(quoted(rec.Routers) + ",")
		sb.WriteString(u32(rec.RouterCount) + ",")
		sb.WriteString(tsLit(rec.Timestamp))
		sb.WriteByte(')')

		values[rec.Hash] = sb.String()
	}

	return &BulkQuery{
		Prefix: "INSERT INTO collectors (hash_id,state,admin_id,routers,router_count,timestamp) VALUES ",
		Suffix: " ON CONFLICT (hash_id) DO UPDATE SET state=excluded.state," +
			"admin_id=excluded.admin_id,routers=excluded.routers," +
			"router_count=excluded.router_count,timestamp=excluded.timestamp",
		Values: values,
	}
}

// GenRouterCollectorUpdate cascades a stopped collector onto its routers:
// every router reported by a down collector is marked down as well.
func (q *CollectorQuery) GenRouterCollectorUpdate() string {
	var down []string
	ts := ""
	for _, rec := range q.records {
		if rec.Action == "stopped" {
			down = append(down, quoted(rec.Hash)+"::uuid")
			ts = rec.Timestamp
		}
	}
	if len(down) == 0 {
		return ""
	}

	return "UPDATE routers SET state = 'down', timestamp = " + tsLit(ts) +
		" WHERE state = 'up' AND collector_hash_id IN (" + strings.Join(down, ",") + ")"
}
