package models

import (
	"encoding/json"
	"fmt"
)

// Record types for each parsed message kind. Field order in the TSV rows
// follows the parsed message bus API; decoders index by position and keep
// only the columns the database surface needs. A row that is too short,
// carries an unparseable numeric, or is missing its hash is dropped (and
// logged at debug) rather than half-decoded.

type CollectorRec struct {
	Action      string
	Sequence    int64
	AdminID     string
	Hash        string
	Routers     string
	RouterCount uint32
	Timestamp   string
}

type RouterRec struct {
	Action     string
	Sequence   int64
	Name       string
	Hash       string
	IPAddress  string
	Descr      string
	TermCode   uint32
	TermReason string
	Timestamp  string
}

type PeerRec struct {
	Action      string
	Sequence    int64
	Hash        string
	RouterHash  string
	Name        string
	RemoteBGPID string
	RouterIP    string
	Timestamp   string
	RemoteASN   uint32
	RemoteIP    string
	PeerRD      string
	IsL3VPN     bool
	IsPrePolicy bool
	IsIPv4      bool
}

type BaseAttrRec struct {
	Action           string
	Sequence         int64
	Hash             string
	RouterHash       string
	PeerHash         string
	PeerASN          uint32
	Timestamp        string
	Origin           string
	ASPath           string
	ASPathCount      uint32
	OriginAS         uint32
	NextHop          string
	MED              uint32
	LocalPref        uint32
	Aggregator       string
	CommunityList    string
	ExtCommunityList string
	ClusterList      string
	IsAtomicAgg      bool
	IsNextHopIPv4    bool
	OriginatorID     string
}

type UnicastPrefixRec struct {
	Action       string
	Sequence     int64
	Hash         string
	RouterHash   string
	BaseAttrHash string
	PeerHash     string
	PeerIP       string
	PeerASN      uint32
	Timestamp    string
	Prefix       string
	PrefixLen    uint32
	IsIPv4       bool
	Origin       string
	ASPath       string
	OriginAS     uint32
	IsWithdrawn  bool
	PathID       uint32
	Labels       string
	IsPrePolicy  bool
	IsAdjRIBIn   bool
}

type L3VpnPrefixRec struct {
	UnicastPrefixRec
	RD               string
	ExtCommunityList string
}

type LsNodeRec struct {
	Action         string
	Sequence       int64
	Hash           string
	BaseAttrHash   string
	PeerHash       string
	Timestamp      string
	IGPRouterID    string
	RouterID       string
	BGPLsID        uint32
	OSPFAreaID     string
	ISISAreaID     string
	Protocol       string
	Flags          string
	ASN            uint32
	MTIDs          string
	Name           string
	SRCapabilities string
	IsWithdrawn    bool
}

type LsLinkRec struct {
	Action          string
	Sequence        int64
	Hash            string
	BaseAttrHash    string
	PeerHash        string
	Timestamp       string
	LocalNodeHash   string
	RemoteNodeHash  string
	LocalLinkID     uint32
	RemoteLinkID    uint32
	InterfaceIP     string
	NeighborIP      string
	IGPMetric       uint32
	AdminGroup      uint32
	TEDefaultMetric uint32
	LinkName        string
	IsWithdrawn     bool
}

type LsPrefixRec struct {
	Action        string
	Sequence      int64
	Hash          string
	BaseAttrHash  string
	PeerHash      string
	Timestamp     string
	LocalNodeHash string
	Protocol      string
	Prefix        string
	PrefixLen     uint32
	Metric        uint32
	IsWithdrawn   bool
}

type BmpStatRec struct {
	Action              string
	Sequence            int64
	RouterHash          string
	PeerHash            string
	Timestamp           string
	PrefixesRejected    int64
	KnownDupPrefixes    int64
	KnownDupWithdraws   int64
	InvalidClusterList  int64
	InvalidASPathLoop   int64
	InvalidOriginatorID int64
	InvalidASConfedLoop int64
	RoutesAdjRIBIn      int64
	RoutesLocRIB        int64
}

// SubscriptionRec is JSON rather than TSV: {"action": "subscribe",
// "resource": "AS15169"}.
type SubscriptionRec struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func DecodeCollectors(m *Message) []CollectorRec {
	recs := make([]CollectorRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := CollectorRec{
			Action:      r.str(0),
			Sequence:    r.int64(1),
			AdminID:     r.str(2),
			Hash:        r.str(3),
			Routers:     r.str(4),
			RouterCount: r.uint32(5),
			Timestamp:   r.str(6),
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("collector", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeRouters(m *Message) []RouterRec {
	recs := make([]RouterRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := RouterRec{
			Action:     r.str(0),
			Sequence:   r.int64(1),
			Name:       r.str(2),
			Hash:       r.str(3),
			IPAddress:  r.str(4),
			Descr:      r.str(5),
			TermCode:   r.uint32(6),
			TermReason: r.str(7),
			Timestamp:  r.str(8),
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("router", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodePeers(m *Message) []PeerRec {
	recs := make([]PeerRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := PeerRec{
			Action:      r.str(0),
			Sequence:    r.int64(1),
			Hash:        r.str(2),
			RouterHash:  r.str(3),
			Name:        r.str(4),
			RemoteBGPID: r.str(5),
			RouterIP:    r.str(6),
			Timestamp:   r.str(7),
			RemoteASN:   r.uint32(8),
			RemoteIP:    r.str(9),
			PeerRD:      r.str(10),
			IsL3VPN:     r.boolean(11),
			IsPrePolicy: r.boolean(12),
			IsIPv4:      r.boolean(13),
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("peer", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeBaseAttrs(m *Message) []BaseAttrRec {
	recs := make([]BaseAttrRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := BaseAttrRec{
			Action:           r.str(0),
			Sequence:         r.int64(1),
			Hash:             r.str(2),
			RouterHash:       r.str(3),
			PeerHash:         r.str(5),
			PeerASN:          r.uint32(7),
			Timestamp:        r.str(8),
			Origin:           r.str(9),
			ASPath:           r.str(10),
			ASPathCount:      r.uint32(11),
			OriginAS:         r.uint32(12),
			NextHop:          r.str(13),
			MED:              r.uint32(14),
			LocalPref:        r.uint32(15),
			Aggregator:       r.str(16),
			CommunityList:    r.str(17),
			ExtCommunityList: r.str(18),
			ClusterList:      r.str(19),
			IsAtomicAgg:      r.boolean(20),
			IsNextHopIPv4:    r.boolean(21),
			OriginatorID:     r.str(22),
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("base_attribute", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func decodeUnicastRow(r *row) UnicastPrefixRec {
	return UnicastPrefixRec{
		Action:       r.str(0),
		Sequence:     r.int64(1),
		Hash:         r.str(2),
		RouterHash:   r.str(3),
		BaseAttrHash: r.str(5),
		PeerHash:     r.str(6),
		PeerIP:       r.str(7),
		PeerASN:      r.uint32(8),
		Timestamp:    r.str(9),
		Prefix:       r.str(10),
		PrefixLen:    r.uint32(11),
		IsIPv4:       r.boolean(12),
		Origin:       r.str(13),
		ASPath:       r.str(14),
		OriginAS:     r.uint32(16),
		IsWithdrawn:  r.str(0) == "del",
		PathID:       r.uint32(27),
		Labels:       r.str(28),
		IsPrePolicy:  r.boolean(29),
		IsAdjRIBIn:   r.boolean(30),
	}
}

func DecodeUnicastPrefixes(m *Message) []UnicastPrefixRec {
	recs := make([]UnicastPrefixRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := decodeUnicastRow(r)
		if r.err != nil || rec.Hash == "" {
			dropRow("unicast_prefix", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeL3VpnPrefixes(m *Message) []L3VpnPrefixRec {
	recs := make([]L3VpnPrefixRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := L3VpnPrefixRec{
			UnicastPrefixRec: decodeUnicastRow(r),
			RD:               r.str(31),
			ExtCommunityList: r.str(22),
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("l3vpn", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeLsNodes(m *Message) []LsNodeRec {
	recs := make([]LsNodeRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := LsNodeRec{
			Action:         r.str(0),
			Sequence:       r.int64(1),
			Hash:           r.str(2),
			BaseAttrHash:   r.str(3),
			PeerHash:       r.str(6),
			Timestamp:      r.str(9),
			IGPRouterID:    r.str(10),
			RouterID:       r.str(11),
			BGPLsID:        r.uint32(12),
			MTIDs:          r.str(13),
			OSPFAreaID:     r.str(14),
			ISISAreaID:     r.str(15),
			Protocol:       r.str(16),
			Flags:          r.str(17),
			ASN:            r.uint32(18),
			Name:           r.str(22),
			SRCapabilities: r.str(25),
			IsWithdrawn:    r.str(0) == "del",
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("ls_node", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeLsLinks(m *Message) []LsLinkRec {
	recs := make([]LsLinkRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := LsLinkRec{
			Action:          r.str(0),
			Sequence:        r.int64(1),
			Hash:            r.str(2),
			BaseAttrHash:    r.str(3),
			PeerHash:        r.str(6),
			Timestamp:       r.str(9),
			LocalLinkID:     r.uint32(14),
			RemoteLinkID:    r.uint32(15),
			InterfaceIP:     r.str(16),
			NeighborIP:      r.str(17),
			IGPMetric:       r.uint32(18),
			AdminGroup:      r.uint32(19),
			TEDefaultMetric: r.uint32(23),
			LinkName:        r.str(27),
			RemoteNodeHash:  r.str(28),
			LocalNodeHash:   r.str(29),
			IsWithdrawn:     r.str(0) == "del",
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("ls_link", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeLsPrefixes(m *Message) []LsPrefixRec {
	recs := make([]LsPrefixRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := LsPrefixRec{
			Action:        r.str(0),
			Sequence:      r.int64(1),
			Hash:          r.str(2),
			BaseAttrHash:  r.str(3),
			PeerHash:      r.str(6),
			Timestamp:     r.str(9),
			LocalNodeHash: r.str(10),
			Protocol:      r.str(13),
			Metric:        r.uint32(19),
			Prefix:        r.str(20),
			PrefixLen:     r.uint32(21),
			IsWithdrawn:   r.str(0) == "del",
		}
		if r.err != nil || rec.Hash == "" {
			dropRow("ls_prefix", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

func DecodeBmpStats(m *Message) []BmpStatRec {
	recs := make([]BmpStatRec, 0, len(m.Rows))
	for _, fields := range m.Rows {
		r := &row{fields: fields}
		rec := BmpStatRec{
			Action:              r.str(0),
			Sequence:            r.int64(1),
			RouterHash:          r.str(2),
			PeerHash:            r.str(4),
			Timestamp:           r.str(7),
			PrefixesRejected:    r.int64(8),
			KnownDupPrefixes:    r.int64(9),
			KnownDupWithdraws:   r.int64(10),
			InvalidClusterList:  r.int64(11),
			InvalidASPathLoop:   r.int64(12),
			InvalidOriginatorID: r.int64(13),
			InvalidASConfedLoop: r.int64(14),
			RoutesAdjRIBIn:      r.int64(15),
			RoutesLocRIB:        r.int64(16),
		}
		if r.err != nil || rec.PeerHash == "" {
			dropRow("bmp_stat", r.err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

// DecodeSubscription parses the JSON body of a subscription message.
func DecodeSubscription(content []byte) (*SubscriptionRec, error) {
	var rec SubscriptionRec
	if err := json.Unmarshal(content, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse subscription message: %w", err)
	}
	return &rec, nil
}
