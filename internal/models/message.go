package models

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Message is one decoded bus record: a header block followed by
// tab-separated content rows. Header keys are single letters or
// well-known names, e.g.
//
//	V: 1.7
//	C_HASH_ID: 0c2d... (collector hash)
//	T: unicast_prefix
//	L: 451
//	R: 3
//
// followed by a blank line and R content rows.
type Message struct {
	Version       string
	CollectorHash string
	Type          string
	Length        int
	RowCount      int
	Rows          [][]string
	RawContent    string
}

// ParseMessage splits the raw record value into headers and content rows.
func ParseMessage(value []byte) (*Message, error) {
	raw := string(value)

	headerEnd := strings.Index(raw, "\n\n")
	if headerEnd < 0 {
		return nil, fmt.Errorf("message missing header terminator")
	}

	msg := &Message{}
	for _, line := range strings.Split(raw[:headerEnd], "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)

		switch strings.TrimSpace(k) {
		case "V":
			msg.Version = v
		case "C_HASH_ID":
			msg.CollectorHash = v
		case "T":
			msg.Type = v
		case "L":
			msg.Length, _ = strconv.Atoi(v)
		case "R":
			msg.RowCount, _ = strconv.Atoi(v)
		}
	}

	content := strings.TrimRight(raw[headerEnd+2:], "\n")
	msg.RawContent = content
	if content == "" {
		return msg, nil
	}

	for _, line := range strings.Split(content, "\n") {
		msg.Rows = append(msg.Rows, strings.Split(line, "\t"))
	}

	if msg.RowCount > 0 && msg.RowCount != len(msg.Rows) {
		return nil, fmt.Errorf("message row count mismatch: header %d, content %d",
			msg.RowCount, len(msg.Rows))
	}

	return msg, nil
}

// row wraps one TSV record and latches the first decode failure, so a
// decoder can read all its fields and check well-formedness once. A
// short row or a non-empty field that fails to parse poisons the row;
// empty numeric fields read as zero (absent optional columns).
type row struct {
	fields []string
	err    error
}

func (r *row) str(i int) string {
	if r.err != nil {
		return ""
	}
	if i >= len(r.fields) {
		r.err = fmt.Errorf("field %d out of range, row has %d fields", i, len(r.fields))
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

func (r *row) int64(i int) int64 {
	s := r.str(i)
	if r.err != nil || s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("field %d: %w", i, err)
		return 0
	}
	return n
}

func (r *row) uint32(i int) uint32 {
	s := r.str(i)
	if r.err != nil || s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		r.err = fmt.Errorf("field %d: %w", i, err)
		return 0
	}
	return uint32(n)
}

func (r *row) boolean(i int) bool {
	s := r.str(i)
	return s == "1" || strings.EqualFold(s, "true")
}

// dropRow logs a malformed content row at debug level. The row is
// skipped; the rest of the message still decodes.
func dropRow(kind string, err error) {
	if err == nil {
		err = fmt.Errorf("missing hash")
	}
	slog.Debug("record_row_dropped",
		slog.String("kind", kind),
		slog.String("error", err.Error()))
}
