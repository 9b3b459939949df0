package dht

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKRPC(t *testing.T) *KRPC {
	t.Helper()

	k, err := NewKRPC(RandomID(), "127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatalf("NewKRPC failed: %v", err)
	}
	k.Start()
	t.Cleanup(k.Stop)
	return k
}

func TestKRPC_SendQuery_RoundTrip(t *testing.T) {
	server := newTestKRPC(t)
	client := newTestKRPC(t)

	serverID := server.localID
	server.SetQueryHandler(func(msg *Message) {
		server.SendResponse(PingResponse(msg.T, serverID), msg.Addr)
	})

	resp, err := client.SendQuery(
		context.Background(),
		PingQuery("", client.localID),
		server.LocalAddr(),
		200*time.Millisecond,
	)
	if err != nil {
		t.Fatalf("SendQuery failed: %v", err)
	}
	if !resp.IsResponse() {
		t.Fatalf("got message type %q, want response", resp.Y)
	}

	gotID, ok := resp.GetNodeID()
	if !ok || gotID != serverID {
		t.Errorf("GetNodeID = (%x, %v), want (%x, true)", gotID, ok, serverID)
	}
}

func TestKRPC_SendQuery_TimeoutWhenUnanswered(t *testing.T) {
	server := newTestKRPC(t) // no query handler installed
	client := newTestKRPC(t)

	_, err := client.SendQuery(
		context.Background(),
		PingQuery("", client.localID),
		server.LocalAddr(),
		20*time.Millisecond,
	)
	if err != ErrTimeout {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestKRPC_SendQuery_AssignsTransactionIDWhenEmpty(t *testing.T) {
	server := newTestKRPC(t)
	client := newTestKRPC(t)

	var seenTxID string
	server.SetQueryHandler(func(msg *Message) {
		seenTxID = msg.T
		server.SendResponse(PingResponse(msg.T, server.localID), msg.Addr)
	})

	query := PingQuery("", client.localID)
	if query.T != "" {
		t.Fatalf("test setup: expected empty transaction id")
	}

	if _, err := client.SendQuery(context.Background(), query, server.LocalAddr(), 200*time.Millisecond); err != nil {
		t.Fatalf("SendQuery failed: %v", err)
	}
	if seenTxID == "" {
		t.Errorf("SendQuery did not assign a transaction id before sending")
	}
	if query.T != seenTxID {
		t.Errorf("query.T = %q was not updated in place to %q", query.T, seenTxID)
	}
}

func TestKRPC_HandleResponse_UnknownTransactionDispatchesToResponseHandler(t *testing.T) {
	server := newTestKRPC(t)
	client := newTestKRPC(t)

	received := make(chan *Message, 1)
	client.SetResponseHandler(func(msg *Message) {
		received <- msg
	})

	// The server answers with a transaction id the client never registered,
	// so it should be routed through the response handler instead of a
	// pending SendQuery call.
	server.SetQueryHandler(func(msg *Message) {
		server.SendResponse(PingResponse("unsolicited", server.localID), msg.Addr)
	})

	go client.send(PingQuery("probe", client.localID), server.LocalAddr())

	select {
	case msg := <-received:
		if msg.T != "unsolicited" {
			t.Errorf("response handler got txid %q, want unsolicited", msg.T)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsolicited response to reach response handler")
	}
}

func TestKRPC_MessageToMap_MapToMessage_QueryRoundTrip(t *testing.T) {
	k := newTestKRPC(t)

	original := FindNodeQuery("txA", idOfBits(3), idOfBits(50))
	data := k.messageToMap(original)

	decoded := k.mapToMessage(data, nil)
	if decoded == nil {
		t.Fatalf("mapToMessage returned nil")
	}
	if decoded.T != original.T || decoded.Y != original.Y || decoded.Q != original.Q {
		t.Errorf("decoded envelope = %+v, want to match %+v", decoded, original)
	}

	target, ok := decoded.GetTarget()
	wantTarget, _ := original.GetTarget()
	if !ok || target != wantTarget {
		t.Errorf("decoded GetTarget = (%x, %v), want (%x, true)", target, ok, wantTarget)
	}
}

func TestKRPC_MessageToMap_MapToMessage_ErrorRoundTrip(t *testing.T) {
	k := newTestKRPC(t)

	original := NewError("txB", ErrorProtocol, "bad request")
	decoded := k.mapToMessage(k.messageToMap(original), nil)

	if decoded == nil || !decoded.IsError() {
		t.Fatalf("decoded message is not an error message: %+v", decoded)
	}
	if len(decoded.E) != 2 || decoded.E[0] != ErrorProtocol {
		t.Errorf("decoded E = %v, want [%d, ...]", decoded.E, ErrorProtocol)
	}
}

func TestKRPC_MapToMessage_RejectsMissingTransactionID(t *testing.T) {
	k := newTestKRPC(t)

	if msg := k.mapToMessage(map[string]any{"y": "q"}, nil); msg != nil {
		t.Errorf("mapToMessage should reject a message with no transaction id, got %+v", msg)
	}
}

func TestKRPC_GenerateTransactionID_ReturnsDistinctValues(t *testing.T) {
	k := newTestKRPC(t)

	a := k.generateTransactionID()
	b := k.generateTransactionID()
	if a == b {
		t.Errorf("generateTransactionID returned identical ids across calls: %q", a)
	}
}
