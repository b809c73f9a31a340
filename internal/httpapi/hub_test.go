package httpapi

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/control"
)

func TestHub_BroadcastEncodesPerClientFormat(t *testing.T) {
	tests := []struct {
		name    string
		formats []bool // binary flag per client
	}{
		{"json only", []bool{false, false}},
		{"msgpack only", []bool{true}},
		{"mixed", []bool{false, true, true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub()
			clients := make([]*client, len(tt.formats))
			for i, binary := range tt.formats {
				clients[i] = &client{send: make(chan []byte, 1), binary: binary}
				h.clients[clients[i]] = true
			}

			h.BroadcastSnapshot(streamsupervisor.Snapshot{Slot: "slot-2", Status: streamsupervisor.StatusViewing, Version: 3})

			for i, c := range clients {
				var data []byte
				select {
				case data = <-c.send:
				default:
					t.Fatalf("client %d got nothing", i)
				}
				if len(data) == 0 {
					t.Fatalf("client %d got an empty message", i)
				}

				var st control.SlotStatus
				if c.binary {
					dec := msgpack.NewDecoder(bytes.NewReader(data))
					dec.SetCustomStructTag("json")
					if err := dec.Decode(&st); err != nil {
						t.Fatalf("client %d: msgpack decode failed: %v", i, err)
					}
				} else if err := json.Unmarshal(data, &st); err != nil {
					t.Fatalf("client %d: json decode failed: %v", i, err)
				}
				if st.Slot != "slot-2" || st.Status != "viewing" || st.Version != 3 {
					t.Errorf("client %d decoded %+v", i, st)
				}
			}
			t.Logf("✅ %d clients each got their own format", len(clients))
		})
	}
}
