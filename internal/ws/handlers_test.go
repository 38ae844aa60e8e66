package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncstart/internal/events"
	"syncstart/internal/roomid"
	"syncstart/internal/services/room"
)

type fakePeer struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	full   bool
}

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrConnClosed
	}
	if p.full {
		return ErrBackpressure
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *fakePeer) raw(t *testing.T, i int) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.Greater(t, len(p.msgs), i, "peer has %d messages", len(p.msgs))
	return string(p.msgs[i])
}

func (p *fakePeer) last(t *testing.T) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.msgs)
	var m map[string]any
	require.NoError(t, json.Unmarshal(p.msgs[len(p.msgs)-1], &m))
	return m
}

type recPub struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recPub) Publish(e events.Event) {
	r.mu.Lock()
	r.evs = append(r.evs, e)
	r.mu.Unlock()
}

func (r *recPub) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.evs))
	for i, e := range r.evs {
		out[i] = e.Kind
	}
	return out
}

type exhaustedIDs struct{}

func (exhaustedIDs) Generate(func(string) bool) (string, error) { return "", roomid.ErrExhausted }

type harness struct {
	t     *testing.T
	srv   *WsServer
	rooms room.IRoomService
	pub   *recPub
}

func newHarness(t *testing.T, ids room.IDGenerator) *harness {
	t.Helper()
	if ids == nil {
		ids = roomid.New(nil)
	}
	rooms := room.NewRoomService(ids, time.Hour)
	pub := &recPub{}
	return &harness{t: t, srv: NewWsServer(rooms, pub, Options{}), rooms: rooms, pub: pub}
}

func (h *harness) conn(id string) (*ConnContext, *fakePeer) {
	p := &fakePeer{}
	return &ConnContext{ID: id, Server: h.srv, peer: p}, p
}

func (h *harness) send(cc *ConnContext, frame string) {
	h.srv.handleFrame(cc, []byte(frame))
}

// room creates a room mastered by "M" and returns its id with the master's
// connection.
func (h *harness) room() (string, *ConnContext, *fakePeer) {
	h.t.Helper()
	cc, p := h.conn("master")
	h.send(cc, `{"type":"CREATE_ROOM","masterId":"M"}`)
	reply := p.last(h.t)
	require.Equal(h.t, TypeRoomCreated, reply["type"])
	return reply["roomId"].(string), cc, p
}

func (h *harness) join(roomID, clientID string) (*ConnContext, *fakePeer) {
	h.t.Helper()
	cc, p := h.conn(clientID)
	h.send(cc, `{"type":"JOIN_ROOM","roomId":"`+roomID+`","clientId":"`+clientID+`"}`)
	require.Equal(h.t, TypeJoined, p.last(h.t)["type"])
	return cc, p
}

func assertError(t *testing.T, p *fakePeer, code string) {
	t.Helper()
	m := p.last(t)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, code, m["code"])
}

func TestBadJSON(t *testing.T) {
	frames := []string{
		`not json`,
		`{"type":"SYNC_PING"`,
		`[1,2,3]`,
		`null`,
		`{}`,
		`{"type":5}`,
		`{"type":""}`,
	}

	t.Run("unbound", func(t *testing.T) {
		h := newHarness(t, nil)
		for _, f := range frames {
			cc, p := h.conn("c")
			h.send(cc, f)
			assertError(t, p, CodeBadJSON)
			assert.False(t, cc.Session.Bound())
		}
		assert.Zero(t, h.rooms.Count())
	})

	t.Run("bound", func(t *testing.T) {
		h := newHarness(t, nil)
		id, mc, mp := h.room()
		for _, f := range frames {
			h.send(mc, f)
			assertError(t, mp, CodeBadJSON)
		}
		r, ok := h.rooms.GetRoom(id)
		require.True(t, ok)
		assert.Equal(t, []string{"M"}, r.ClientIDs())
		assert.Equal(t, id, mc.Session.RoomID)
	})

	t.Run("ill-typed id field", func(t *testing.T) {
		h := newHarness(t, nil)
		id, _, _ := h.room()
		cc, p := h.conn("c")
		h.send(cc, `{"type":"JOIN_ROOM","roomId":"`+id+`","clientId":5}`)
		assertError(t, p, CodeBadJSON)
		assert.False(t, cc.Session.Bound())
	})
}

func TestUnknownType(t *testing.T) {
	h := newHarness(t, nil)
	cc, p := h.conn("c")
	h.send(cc, `{"type":"DANCE"}`)
	assertError(t, p, CodeUnknownType)
}

func TestCreateRoom(t *testing.T) {
	h := newHarness(t, nil)
	cc, p := h.conn("c")
	h.send(cc, `{"type":"CREATE_ROOM","masterId":"boss"}`)

	m := p.last(t)
	assert.Equal(t, TypeRoomCreated, m["type"])
	assert.Equal(t, "boss", m["masterId"])
	assert.True(t, roomid.Valid(m["roomId"].(string)))
	assert.NotZero(t, m["serverTime"])

	assert.True(t, cc.Session.Bound())
	assert.True(t, cc.Session.IsMaster)
	assert.Equal(t, "boss", cc.Session.ClientID)

	r, ok := h.rooms.GetRoom(m["roomId"].(string))
	require.True(t, ok)
	peer, ok := r.Master()
	require.True(t, ok)
	assert.Same(t, p, peer)
	assert.Equal(t, []events.Kind{events.RoomCreated}, h.pub.kinds())
}

func TestCreateRoom_SynthesizesMasterID(t *testing.T) {
	h := newHarness(t, nil)
	cc, p := h.conn("c")
	h.send(cc, `{"type":"CREATE_ROOM"}`)

	m := p.last(t)
	require.Equal(t, TypeRoomCreated, m["type"])
	_, err := uuid.Parse(m["masterId"].(string))
	assert.NoError(t, err)
	assert.Equal(t, m["masterId"], cc.Session.ClientID)
}

func TestCreateRoom_Exhausted(t *testing.T) {
	h := newHarness(t, exhaustedIDs{})
	cc, p := h.conn("c")
	h.send(cc, `{"type":"CREATE_ROOM","masterId":"M"}`)

	assertError(t, p, CodeRoomIDExhausted)
	assert.False(t, cc.Session.Bound())
	assert.Zero(t, h.rooms.Count())
}

func TestBindOnlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, mp := h.room()
	other, _, _ := h.room()

	h.send(mc, `{"type":"CREATE_ROOM"}`)
	assertError(t, mp, CodeAlreadyInRoom)
	h.send(mc, `{"type":"JOIN_ROOM","roomId":"`+other+`","clientId":"x"}`)
	assertError(t, mp, CodeAlreadyInRoom)

	assert.Equal(t, id, mc.Session.RoomID)
	assert.Equal(t, 2, h.rooms.Count())
}

func TestJoinRoom(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()

	cc, p := h.conn("a")
	h.send(cc, `{"type":"JOIN_ROOM","roomId":"`+id+`","clientId":"A"}`)

	m := p.last(t)
	assert.Equal(t, TypeJoined, m["type"])
	assert.Equal(t, id, m["roomId"])
	assert.Equal(t, "A", m["clientId"])
	assert.NotZero(t, m["serverTime"])
	assert.False(t, cc.Session.IsMaster)

	notice := mp.last(t)
	assert.Equal(t, TypeClientJoined, notice["type"])
	assert.Equal(t, id, notice["roomId"])
	assert.Equal(t, "A", notice["clientId"])
}

func TestJoinRoom_Errors(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.room()
	h.join(id, "A")

	cases := []struct {
		name  string
		frame string
		code  string
	}{
		{"no fields", `{"type":"JOIN_ROOM"}`, CodeMissingFields},
		{"no client id", `{"type":"JOIN_ROOM","roomId":"` + id + `"}`, CodeMissingFields},
		{"empty room id", `{"type":"JOIN_ROOM","roomId":"","clientId":"B"}`, CodeMissingFields},
		{"unknown room", `{"type":"JOIN_ROOM","roomId":"ZZZ-ZZZ","clientId":"B"}`, CodeRoomNotFound},
		{"taken", `{"type":"JOIN_ROOM","roomId":"` + id + `","clientId":"A"}`, CodeClientIDTaken},
		{"master id taken", `{"type":"JOIN_ROOM","roomId":"` + id + `","clientId":"M"}`, CodeClientIDTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cc, p := h.conn("x")
			h.send(cc, tc.frame)
			assertError(t, p, tc.code)
			assert.False(t, cc.Session.Bound())
		})
	}

	r, _ := h.rooms.GetRoom(id)
	assert.ElementsMatch(t, []string{"M", "A"}, r.ClientIDs())
}

func TestJoinRoom_MasterGoneIsNotAnError(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	mp.full = true

	_, p := h.join(id, "A")
	assert.Equal(t, TypeJoined, p.last(t)["type"])
}

func TestBoundOnlyTypes_NotInRoom(t *testing.T) {
	h := newHarness(t, nil)
	for _, f := range []string{
		`{"type":"SYNC_PING","seq":1}`,
		`{"type":"START_AT","serverTime":1}`,
		`{"type":"ACK_START"}`,
	} {
		cc, p := h.conn("c")
		h.send(cc, f)
		assertError(t, p, CodeNotInRoom)
	}
}

func TestBoundOnlyTypes_RoomGone(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, mp := h.room()
	ac, ap := h.join(id, "A")

	// Expired rooms are evicted even while clients are still connected.
	evicted := h.rooms.Sweep(time.Now().Add(2 * time.Hour))
	require.Len(t, evicted, 1)

	h.send(ac, `{"type":"SYNC_PING"}`)
	assertError(t, ap, CodeRoomGone)
	h.send(ac, `{"type":"START_AT","serverTime":1}`)
	assertError(t, ap, CodeRoomGone)
	h.send(mc, `{"type":"START_AT","serverTime":1}`)
	assertError(t, mp, CodeRoomGone)
	h.send(mc, `{"type":"ACK_START"}`)
	assertError(t, mp, CodeRoomGone)
}

func TestRoomGone_IDReusedByNewRoom(t *testing.T) {
	h := newHarness(t, fixedID("AAA-AAA"))
	_, _, _ = h.room()
	ac, ap := h.join("AAA-AAA", "A")

	h.rooms.Sweep(time.Now().Add(2 * time.Hour))
	_, _, _ = h.room() // same id, new instance

	h.send(ac, `{"type":"SYNC_PING"}`)
	assertError(t, ap, CodeRoomGone)
}

type fixedID string

func (f fixedID) Generate(taken func(string) bool) (string, error) {
	if taken(string(f)) {
		return "", roomid.ErrExhausted
	}
	return string(f), nil
}

func TestSyncPing_EchoesVerbatim(t *testing.T) {
	h := newHarness(t, nil)
	_, mc, mp := h.room()

	h.send(mc, `{"type":"SYNC_PING","seq":7,"t0":1234}`)
	out := mp.raw(t, mp.count()-1)
	assert.Contains(t, out, `"seq":7`)
	assert.Contains(t, out, `"t0":1234`)

	h.send(mc, `{"type":"SYNC_PING","seq":"abc","t0":1712345678901.25}`)
	out = mp.raw(t, mp.count()-1)
	assert.Contains(t, out, `"seq":"abc"`)
	assert.Contains(t, out, `"t0":1712345678901.25`)

	m := mp.last(t)
	assert.Equal(t, TypeSyncPong, m["type"])
	assert.NotZero(t, m["serverTime"])
}

func TestSyncPing_AbsentFieldsStayAbsent(t *testing.T) {
	h := newHarness(t, nil)
	_, mc, mp := h.room()

	h.send(mc, `{"type":"SYNC_PING"}`)
	m := mp.last(t)
	assert.Equal(t, TypeSyncPong, m["type"])
	assert.NotContains(t, m, "seq")
	assert.NotContains(t, m, "t0")
	assert.Contains(t, m, "serverTime")
}

func TestSyncPing_ServerTimeMonotonic(t *testing.T) {
	h := newHarness(t, nil)
	_, mc, mp := h.room()

	base := time.Now()
	steps := []time.Duration{0, 5 * time.Millisecond, -time.Second, 2 * time.Millisecond, time.Second}
	var prev float64
	for i, d := range steps {
		h.srv.now = func() time.Time { return base.Add(d) }
		h.send(mc, `{"type":"SYNC_PING","seq":1}`)
		st := mp.last(t)["serverTime"].(float64)
		if i > 0 {
			assert.GreaterOrEqual(t, st, prev, "step %d", i)
		}
		prev = st
	}
	assert.Equal(t, float64(base.Add(time.Second).UnixMilli()), prev)
}

func TestStartAt_NotMaster(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	ac, ap := h.join(id, "A")
	_, bp := h.join(id, "B")
	before := [3]int{mp.count(), ap.count(), bp.count()}

	h.send(ac, `{"type":"START_AT","serverTime":1700000000000}`)

	assertError(t, ap, CodeNotMaster)
	assert.Equal(t, before[0], mp.count())
	assert.Equal(t, before[1]+1, ap.count())
	assert.Equal(t, before[2], bp.count())
}

func TestStartAt_BadTimestamp(t *testing.T) {
	h := newHarness(t, nil)
	_, mc, mp := h.room()

	for _, v := range []string{`"soon"`, `"1700000000000"`, `null`, `true`, `-5`, `{}`, `[]`, `1e400`} {
		h.send(mc, `{"type":"START_AT","serverTime":`+v+`}`)
		assertError(t, mp, CodeBadTimestamp)
	}
	h.send(mc, `{"type":"START_AT"}`)
	assertError(t, mp, CodeBadTimestamp)
}

func TestStartAt_BroadcastsToRoomOnly(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, mp := h.room()
	_, ap := h.join(id, "A")
	_, bp := h.join(id, "B")

	otherID, _, op := h.room()
	_, xp := h.join(otherID, "X")
	outside := [2]int{op.count(), xp.count()}

	h.send(mc, `{"type":"START_AT","serverTime":1700000000123}`)

	for _, p := range []*fakePeer{mp, ap, bp} {
		m := p.last(t)
		assert.Equal(t, TypeStartAt, m["type"])
		assert.Equal(t, id, m["roomId"])
		assert.Contains(t, p.raw(t, p.count()-1), `"serverTime":1700000000123`)
	}
	assert.Equal(t, outside[0], op.count())
	assert.Equal(t, outside[1], xp.count())

	h.pub.mu.Lock()
	last := h.pub.evs[len(h.pub.evs)-1]
	h.pub.mu.Unlock()
	assert.Equal(t, events.StartScheduled, last.Kind)
	assert.Equal(t, int64(1700000000123), last.ServerTime)
	assert.Equal(t, 3, last.Recipients)
}

func TestStartAt_SlowPeerDoesNotBlock(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, mp := h.room()
	_, ap := h.join(id, "A")
	_, bp := h.join(id, "B")
	ap.full = true

	h.send(mc, `{"type":"START_AT","serverTime":42}`)

	assert.Equal(t, TypeStartAt, mp.last(t)["type"])
	assert.Equal(t, TypeStartAt, bp.last(t)["type"])
}

func TestAckStart_RelayedToMasterOnly(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	ac, ap := h.join(id, "A")
	_, bp := h.join(id, "B")
	before := [2]int{ap.count(), bp.count()}

	h.send(ac, `{"type":"ACK_START","payload":{"latency":12}}`)

	m := mp.last(t)
	assert.Equal(t, TypeAckStart, m["type"])
	assert.Equal(t, "A", m["from"])
	assert.Equal(t, map[string]any{"latency": float64(12)}, m["payload"])
	assert.Equal(t, before[0], ap.count(), "no reply to the sender")
	assert.Equal(t, before[1], bp.count())
}

func TestAckStart_MasterUnreachableIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	ac, ap := h.join(id, "A")
	mp.Close()
	before := ap.count()

	h.send(ac, `{"type":"ACK_START"}`)
	assert.Equal(t, before, ap.count())
}

func TestLeave_Master(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, _ := h.room()
	_, ap := h.join(id, "A")
	_, bp := h.join(id, "B")

	h.srv.leave(mc)

	for _, p := range []*fakePeer{ap, bp} {
		m := p.last(t)
		assert.Equal(t, TypeRoomClosed, m["type"])
		assert.Equal(t, id, m["roomId"])
		assert.True(t, p.isClosed())
	}
	_, ok := h.rooms.GetRoom(id)
	assert.False(t, ok)
	assert.Contains(t, h.pub.kinds(), events.RoomClosed)
}

func TestJoinRoom_RacingMasterLeaveAlwaysAnswers(t *testing.T) {
	for range 20 {
		h := newHarness(t, nil)
		id, mc, _ := h.room()

		const n = 16
		peers := make([]*fakePeer, n)
		var wg sync.WaitGroup
		for i := range n {
			cc, p := h.conn("j")
			peers[i] = p
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.send(cc, `{"type":"JOIN_ROOM","roomId":"`+id+`","clientId":"c`+string(rune('a'+i))+`"}`)
			}()
		}
		h.srv.leave(mc)
		wg.Wait()

		for _, p := range peers {
			var first map[string]any
			require.NoError(t, json.Unmarshal([]byte(p.raw(t, 0)), &first))
			switch first["type"] {
			case TypeJoined:
				// Admitted before the close, so ROOM_CLOSED follows JOINED.
				var second map[string]any
				require.NoError(t, json.Unmarshal([]byte(p.raw(t, 1)), &second))
				assert.Equal(t, TypeRoomClosed, second["type"])
				assert.True(t, p.isClosed())
			case TypeError:
				assert.Equal(t, CodeRoomNotFound, first["code"])
				assert.Equal(t, 1, p.count())
			default:
				t.Fatalf("unexpected first message %v", first)
			}
		}
	}
}

func TestLeave_Member(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	ac, ap := h.join(id, "A")
	_, bp := h.join(id, "B")

	h.srv.leave(ac)

	m := mp.last(t)
	assert.Equal(t, TypeClientLeft, m["type"])
	assert.Equal(t, id, m["roomId"])
	assert.Equal(t, "A", m["clientId"])

	r, ok := h.rooms.GetRoom(id)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"M", "B"}, r.ClientIDs())
	assert.False(t, ap.isClosed())
	assert.False(t, bp.isClosed())
}

func TestLeave_ClientIDFreedForRejoin(t *testing.T) {
	h := newHarness(t, nil)
	id, _, _ := h.room()
	ac, _ := h.join(id, "A")
	h.srv.leave(ac)

	_, p := h.join(id, "A")
	assert.Equal(t, TypeJoined, p.last(t)["type"])
}

func TestLeave_Unbound(t *testing.T) {
	h := newHarness(t, nil)
	id, _, mp := h.room()
	before := mp.count()

	cc, _ := h.conn("lurker")
	h.srv.leave(cc)

	assert.Equal(t, before, mp.count())
	_, ok := h.rooms.GetRoom(id)
	assert.True(t, ok)
}

func TestLeave_RoomAlreadyEvicted(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, _ := h.room()
	_, ap := h.join(id, "A")
	h.rooms.Sweep(time.Now().Add(2 * time.Hour))
	before := ap.count()

	h.srv.leave(mc)

	assert.Equal(t, before, ap.count())
	assert.False(t, ap.isClosed())
}

func TestSweepRooms_PublishesEvictions(t *testing.T) {
	h := newHarness(t, nil)
	h.room()
	h.room()

	h.srv.SweepRooms(time.Now().Add(2 * time.Hour))

	assert.Zero(t, h.rooms.Count())
	n := 0
	for _, k := range h.pub.kinds() {
		if k == events.RoomEvicted {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestEventsFollowLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	id, mc, _ := h.room()
	ac, _ := h.join(id, "A")
	h.send(mc, `{"type":"START_AT","serverTime":10}`)
	h.send(ac, `{"type":"ACK_START"}`)
	h.srv.leave(ac)
	h.srv.leave(mc)

	assert.Equal(t, []events.Kind{
		events.RoomCreated,
		events.ClientJoined,
		events.StartScheduled,
		events.StartAcked,
		events.ClientLeft,
		events.RoomClosed,
	}, h.pub.kinds())

	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	for _, e := range h.pub.evs {
		assert.Equal(t, id, e.RoomID)
		assert.Equal(t, "M", e.MasterID)
		assert.False(t, e.At.IsZero())
	}
}

func TestParseTimestamp(t *testing.T) {
	ok := map[string]int64{`0`: 0, `1700000000000`: 1700000000000, `12.9`: 12, `1e3`: 1000}
	for in, want := range ok {
		got, valid := parseTimestamp(json.RawMessage(in))
		assert.True(t, valid, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{``, `"1"`, `null`, `false`, `-1`, `[1]`} {
		_, valid := parseTimestamp(json.RawMessage(in))
		assert.False(t, valid, in)
	}
}
