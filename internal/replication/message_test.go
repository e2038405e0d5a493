package replication

import (
	"encoding/json"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestTupleMarshalJSON_PreservesOrder(t *testing.T) {
	tuple := Tuple{
		{Name: "name", Value: strPtr("Alice")},
		{Name: "id", Value: strPtr("7")},
	}
	got, err := tuple.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	want := `{"name":"Alice","id":"7"}`
	if string(got) != want {
		t.Errorf("MarshalJSON() = %s, want %s (column order must survive)", got, want)
	}
}

func TestTupleMarshalJSON_NullField(t *testing.T) {
	tuple := Tuple{{Name: "name", Value: nil}}
	got, err := tuple.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if string(got) != `{"name":null}` {
		t.Errorf("MarshalJSON() = %s, want %s", got, `{"name":null}`)
	}
}

func TestTupleUnmarshalJSON_RoundTrip(t *testing.T) {
	original := Tuple{
		{Name: "id", Value: strPtr("7")},
		{Name: "name", Value: nil},
	}
	data, err := original.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}

	var roundTripped Tuple
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatalf("UnmarshalJSON error: %v", err)
	}
	if !reflect.DeepEqual(original, roundTripped) {
		t.Errorf("round trip = %+v, want %+v", roundTripped, original)
	}
}

func TestTupleUnmarshalJSON_Null(t *testing.T) {
	var tuple Tuple
	if err := json.Unmarshal([]byte("null"), &tuple); err != nil {
		t.Fatalf("UnmarshalJSON(null) error: %v", err)
	}
	if tuple != nil {
		t.Errorf("UnmarshalJSON(null) = %v, want nil", tuple)
	}
}

func TestParseEvent_RoundTrip(t *testing.T) {
	tests := []Event{
		&InsertEvent{Table: "users", Data: Tuple{{Name: "id", Value: strPtr("7")}}},
		&UpdateEvent{Table: "users", Old: nil, New: Tuple{{Name: "id", Value: strPtr("7")}}},
		&UpdateEvent{Table: "users", Old: Tuple{{Name: "id", Value: strPtr("6")}}, New: Tuple{{Name: "id", Value: strPtr("7")}}},
		&DeleteEvent{Table: "users", Old: Tuple{{Name: "id", Value: strPtr("7")}}},
		&CommitEvent{LSN: 42, Timestamp: 99},
	}

	for _, original := range tests {
		data, err := original.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%T) error: %v", original, err)
		}
		parsed, err := ParseEvent(data)
		if err != nil {
			t.Fatalf("ParseEvent(%s) error: %v", data, err)
		}
		if !reflect.DeepEqual(original, parsed) {
			t.Errorf("ParseEvent round trip = %+v, want %+v", parsed, original)
		}
	}
}

func TestParseEvent_UnknownType(t *testing.T) {
	if _, err := ParseEvent([]byte(`{"type":"truncate"}`)); err == nil {
		t.Fatal("ParseEvent() with an unknown type expected an error")
	}
}
