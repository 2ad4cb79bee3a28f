package monitor

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTopicValid(t *testing.T) {
	for _, topic := range Topics {
		if !topic.Valid() {
			t.Fatalf("%q.Valid() = false", topic)
		}
	}
	for _, topic := range []Topic{"", "mouse", "KEYS"} {
		if topic.Valid() {
			t.Fatalf("%q.Valid() = true", topic)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := EncodeEvent(Event{Topic: TopicKeys, Time: at, Data: KeyData{Action: 2, Key: "LeftCtrl", Down: true}})
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}
	var got struct {
		Topic string         `json:"topic"`
		Time  time.Time      `json:"time"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Topic != "keys" || !got.Time.Equal(at) {
		t.Fatalf("decoded = %+v", got)
	}
	if got.Data["key"] != "LeftCtrl" || got.Data["down"] != true {
		t.Fatalf("data = %v", got.Data)
	}
	if _, ok := got.Data["requestId"]; ok {
		t.Fatal("empty requestId should be omitted")
	}
}

func TestEncodeEventRejectsUnknownTopic(t *testing.T) {
	if _, err := EncodeEvent(Event{Topic: "mouse"}); err == nil {
		t.Fatal("EncodeEvent() with unknown topic expected error")
	}
}
