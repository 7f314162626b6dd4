package room

import (
	"encoding/json"
	"testing"

	"github.com/instant-chat/instant/internal/envelope"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, id uint64) *Client {
	t.Helper()
	return NewClient(envelope.ConnectionID(id), &fakeConn{}, &recordingDispatcher{}, "", "", "", "", "")
}

func TestRoom_BroadcastFansOutIdenticalBytesToEveryMember(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2, c3 := newTestClient(t, 1), newTestClient(t, 2), newTestClient(t, 3)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")
	g.Join(c3, "x")

	env, err := envelope.New("broadcast", map[string]string{"text": "hi"})
	require.NoError(t, err)

	id, overflowed, err := r.Broadcast(env, c1.ID, false, nil)
	require.NoError(t, err)
	assert.Empty(t, overflowed)
	assert.NotZero(t, id)

	var got [][]byte
	for _, c := range []*Client{c1, c2, c3} {
		select {
		case raw := <-c.send:
			got = append(got, raw)
		default:
			t.Fatalf("client %d received nothing", c.ID)
		}
	}
	assert.Equal(t, got[0], got[1])
	assert.Equal(t, got[1], got[2])
}

func TestRoom_BroadcastEchoesSenderSeqOnlyToSender(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2 := newTestClient(t, 1), newTestClient(t, 2)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")

	env, err := envelope.New("broadcast", map[string]string{"text": "hi"})
	require.NoError(t, err)
	seq := json.Number("1")
	_, overflowed, err := r.Broadcast(env, c1.ID, false, &seq)
	require.NoError(t, err)
	assert.Empty(t, overflowed)

	var gotSender, gotOther envelope.Envelope
	require.NoError(t, json.Unmarshal(<-c1.send, &gotSender))
	require.NoError(t, json.Unmarshal(<-c2.send, &gotOther))

	require.NotNil(t, gotSender.Seq)
	assert.Equal(t, "1", gotSender.Seq.String())
	assert.Nil(t, gotOther.Seq)
	assert.Equal(t, gotSender.ID, gotOther.ID)
	assert.Equal(t, gotSender.From, gotOther.From)
}

func TestRoom_BroadcastExcludeSelf(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2 := newTestClient(t, 1), newTestClient(t, 2)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")

	env, err := envelope.New("broadcast", map[string]string{})
	require.NoError(t, err)
	_, _, err = r.Broadcast(env, c1.ID, true, nil)
	require.NoError(t, err)

	select {
	case <-c1.send:
		t.Fatal("sender should not receive its own excluded broadcast")
	default:
	}
	select {
	case <-c2.send:
	default:
		t.Fatal("other member should still receive the broadcast")
	}
}

func TestRoom_NullRoomRejectsBroadcast(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	env, _ := envelope.New("broadcast", map[string]string{})
	_, _, err := g.NullRoom().Broadcast(env, 1, false, nil)
	assert.ErrorIs(t, err, ErrNullRoomBroadcast)
}

func TestRoom_UnicastDeliversToExactMember(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2 := newTestClient(t, 1), newTestClient(t, 2)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")

	env, _ := envelope.New("unicast", map[string]string{})
	id, found, overflowed, err := r.Unicast(c2.ID, env, c1.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, overflowed)
	assert.NotZero(t, id)

	select {
	case <-c2.send:
	default:
		t.Fatal("target should have received the unicast")
	}
	select {
	case <-c1.send:
		t.Fatal("sender should not receive a unicast addressed to someone else")
	default:
	}
}

func TestRoom_UnicastMissingTarget(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1 := newTestClient(t, 1)
	r, _ := g.Join(c1, "x")

	env, _ := envelope.New("unicast", map[string]string{})
	_, found, _, err := r.Unicast(envelope.ConnectionID(999), env, c1.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRoom_BroadcastReportsOverflowedMembers(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2 := newTestClient(t, 1), newTestClient(t, 2)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")

	for i := 0; i < DefaultSendQueueSize; i++ {
		c2.enqueue([]byte("x"))
	}

	env, _ := envelope.New("broadcast", map[string]string{})
	_, overflowed, err := r.Broadcast(env, c1.ID, false, nil)
	require.NoError(t, err)
	require.Len(t, overflowed, 1)
	assert.Same(t, c2, overflowed[0])
}

func TestRoom_SnapshotReturnsUIDAndNick(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1 := newTestClient(t, 7)
	c1.SetNick("alice")
	r, _ := g.Join(c1, "x")

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "7", snap[0].UID)
	assert.Equal(t, "alice", snap[0].Nick)
}

func TestIDMonotonicity_AcrossBroadcastsInARoom(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1 := newTestClient(t, 1)
	r, _ := g.Join(c1, "x")

	env1, _ := envelope.New("broadcast", map[string]string{"n": "1"})
	id1, _, err := r.Broadcast(env1, c1.ID, false, nil)
	require.NoError(t, err)

	env2, _ := envelope.New("broadcast", map[string]string{"n": "2"})
	id2, _, err := r.Broadcast(env2, c1.ID, false, nil)
	require.NoError(t, err)

	assert.Less(t, id1, id2)
}

func TestRoom_PerRoomTotalOrder(t *testing.T) {
	alloc := idallocator.New()
	g := NewGroup(alloc)
	c1, c2 := newTestClient(t, 1), newTestClient(t, 2)
	r, _ := g.Join(c1, "x")
	g.Join(c2, "x")

	env1, _ := envelope.New("broadcast", map[string]string{"n": "1"})
	_, _, err := r.Broadcast(env1, c1.ID, false, nil)
	require.NoError(t, err)
	env2, _ := envelope.New("broadcast", map[string]string{"n": "2"})
	_, _, err = r.Broadcast(env2, c1.ID, false, nil)
	require.NoError(t, err)

	for _, c := range []*Client{c1, c2} {
		var first, second envelope.Envelope
		raw := <-c.send
		require.NoError(t, json.Unmarshal(raw, &first))
		raw = <-c.send
		require.NoError(t, json.Unmarshal(raw, &second))
		assert.JSONEq(t, `{"n":"1"}`, string(first.Data))
		assert.JSONEq(t, `{"n":"2"}`, string(second.Data))
	}
}
