package astrobox

import (
	"testing"
)

func TestParseFrame_PreservesKeyOrder(t *testing.T) {
	data := []byte(`{"event":{"type":"A"},"current":{},"connected":{"apikey":"k","sessionId":"s"},"commsData":{}}`)

	members, err := parseFrame(data)
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}

	want := []string{"event", "current", "connected", "commsData"}
	if len(members) != len(want) {
		t.Fatalf("got %d members, want %d", len(members), len(want))
	}
	for i, name := range want {
		if members[i].name != name {
			t.Errorf("members[%d].name = %q, want %q", i, members[i].name, name)
		}
	}
	if string(members[0].value) != `{"type":"A"}` {
		t.Errorf("members[0].value = %s, want raw sub-message", members[0].value)
	}
}

func TestParseFrame_DuplicateKeysKept(t *testing.T) {
	members, err := parseFrame([]byte(`{"event":1,"event":2}`))
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if len(members) != 2 || string(members[1].value) != "2" {
		t.Errorf("members = %+v, want both event entries in order", members)
	}
}

func TestParseFrame_Empty(t *testing.T) {
	members, err := parseFrame([]byte(`{}`))
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("got %d members, want 0", len(members))
	}
}

func TestParseFrame_Rejects(t *testing.T) {
	tests := map[string]string{
		"array":     `[1,2]`,
		"string":    `"connected"`,
		"truncated": `{"current":{"state":`,
		"trailing":  `{"current":{}} {"event":{}}`,
		"empty":     ``,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := parseFrame([]byte(data)); err == nil {
				t.Errorf("parseFrame(%q) should fail", data)
			}
		})
	}
}

func TestConnectedMessage_Validate(t *testing.T) {
	if err := (connectedMessage{APIKey: "k", SessionID: "s"}).validate(); err != nil {
		t.Errorf("validate() error: %v", err)
	}
	if err := (connectedMessage{SessionID: "s"}).validate(); err == nil {
		t.Error("validate() should reject a missing apikey")
	}
	if err := (connectedMessage{APIKey: "k"}).validate(); err == nil {
		t.Error("validate() should reject a missing sessionId")
	}
}

func TestDecodeStrict_RejectsNull(t *testing.T) {
	var v connectedMessage
	if err := decodeStrict([]byte(`null`), &v); err == nil {
		t.Error("decodeStrict(null) should fail")
	}
	if err := decodeStrict(nil, &v); err == nil {
		t.Error("decodeStrict(nil) should fail")
	}
}
