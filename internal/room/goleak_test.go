package room

import (
	"context"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestClient_WritePump_ExitsOnClose guards against the WritePump goroutine
// outliving its client: Close must unblock the send-queue read so the pump
// returns instead of leaking.
func TestClient_WritePump_ExitsOnClose(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient(1, conn, &recordingDispatcher{}, "", "", "", "", "")

	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	c.Close(1000, "done")
	<-done
}

// TestClient_ReadPump_ExitsWhenConnCloses guards against ReadPump leaking
// when the underlying connection is already closed (net.ErrClosed from
// ReadMessage must end the pump, not spin or block).
func TestClient_ReadPump_ExitsWhenConnCloses(t *testing.T) {
	conn := &fakeConn{}
	disp := &recordingDispatcher{}
	c := NewClient(1, conn, disp, "", "", "", "", "")

	c.ReadPump(context.Background())

	require_NotEmpty(t, disp.disconnected)
}

func require_NotEmpty(t *testing.T, v []*Client) {
	t.Helper()
	if len(v) == 0 {
		t.Fatalf("expected at least one disconnect notification")
	}
}
