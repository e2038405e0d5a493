package replication

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventKind tags the variants of Event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
	EventCommit EventKind = "commit"
)

// TupleField is one column value in a Tuple: Value is nil for SQL NULL.
type TupleField struct {
	Name  string
	Value *string
}

// Tuple is an ordered mapping from column name to value, with the same
// length and order as the relation's column list. encoding/json serializes
// Go maps with sorted keys, which would silently break that ordering
// guarantee, so Tuple marshals itself field-by-field instead.
type Tuple []TupleField

// MarshalJSON renders the tuple as a JSON object, preserving column order.
func (t Tuple) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		if f.Value == nil {
			buf.WriteString("null")
			continue
		}
		val, err := json.Marshal(*f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object back into an order-preserving Tuple
// using json.Decoder's token stream, since a plain map destination would
// lose field order on the way back in.
func (t *Tuple) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("replication: tuple JSON must be an object")
	}

	var fields Tuple
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("replication: tuple key must be a string")
		}

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		field := TupleField{Name: key}
		if raw != nil {
			s := fmt.Sprint(raw)
			field.Value = &s
		}
		fields = append(fields, field)
	}
	*t = fields
	return nil
}

// Event is a decoded, publishable change: one of InsertEvent, UpdateEvent,
// DeleteEvent, or CommitEvent. Begin and Relation messages produce no
// Event.
type Event interface {
	Kind() EventKind
	json.Marshaler
}

// InsertEvent is produced by the Insert ('I') handler.
type InsertEvent struct {
	Table string
	Data  Tuple
}

func (e *InsertEvent) Kind() EventKind { return EventInsert }

func (e *InsertEvent) MarshalJSON() ([]byte, error) {
	data, err := e.Data.MarshalJSON()
	if err != nil {
		return nil, err
	}
	table, err := json.Marshal(e.Table)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"type":"insert","table":%s,"data":%s}`, table, data)), nil
}

// UpdateEvent is produced by the Update ('U') handler. Old is nil when the
// server sent only a key-tuple identity (replica identity DEFAULT without a
// changed key) rather than a full old-row image.
type UpdateEvent struct {
	Table string
	Old   Tuple // nil => no old image
	New   Tuple
}

func (e *UpdateEvent) Kind() EventKind { return EventUpdate }

func (e *UpdateEvent) MarshalJSON() ([]byte, error) {
	table, err := json.Marshal(e.Table)
	if err != nil {
		return nil, err
	}
	newJSON, err := e.New.MarshalJSON()
	if err != nil {
		return nil, err
	}
	oldJSON := []byte("null")
	if e.Old != nil {
		oldJSON, err = e.Old.MarshalJSON()
		if err != nil {
			return nil, err
		}
	}
	return []byte(fmt.Sprintf(`{"type":"update","table":%s,"old":%s,"new":%s}`, table, oldJSON, newJSON)), nil
}

// DeleteEvent is produced by the Delete ('D') handler.
type DeleteEvent struct {
	Table string
	Old   Tuple
}

func (e *DeleteEvent) Kind() EventKind { return EventDelete }

func (e *DeleteEvent) MarshalJSON() ([]byte, error) {
	table, err := json.Marshal(e.Table)
	if err != nil {
		return nil, err
	}
	old, err := e.Old.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"type":"delete","table":%s,"old":%s}`, table, old)), nil
}

// CommitEvent is produced by the Commit ('C') handler.
type CommitEvent struct {
	LSN       uint64
	Timestamp uint64
}

func (e *CommitEvent) Kind() EventKind { return EventCommit }

func (e *CommitEvent) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`{"type":"commit","lsn":%d,"timestamp":%d}`, e.LSN, e.Timestamp)), nil
}

// envelope is the shared shape used to sniff "type" before decoding the
// rest of an Event's fields; used by ParseEvent for round-trip tests and
// by any downstream consumer that only has the published JSON string.
type envelope struct {
	Type      EventKind `json:"type"`
	Table     string    `json:"table"`
	Data      Tuple     `json:"data"`
	Old       Tuple     `json:"old"`
	New       Tuple     `json:"new"`
	LSN       uint64    `json:"lsn"`
	Timestamp uint64    `json:"timestamp"`
}

// ParseEvent parses a published event string back into its concrete Event
// type. It exists to make marshal/unmarshal round-tripping testable; the
// downstream bus itself only ever deals in opaque strings.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("replication: parse event: %w", err)
	}
	switch env.Type {
	case EventInsert:
		return &InsertEvent{Table: env.Table, Data: env.Data}, nil
	case EventUpdate:
		return &UpdateEvent{Table: env.Table, Old: env.Old, New: env.New}, nil
	case EventDelete:
		return &DeleteEvent{Table: env.Table, Old: env.Old}, nil
	case EventCommit:
		return &CommitEvent{LSN: env.LSN, Timestamp: env.Timestamp}, nil
	default:
		return nil, fmt.Errorf("replication: unknown event type %q", env.Type)
	}
}
