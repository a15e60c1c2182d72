package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	got    []Toast
	fail   bool
	closed bool
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.got = append(f.got, v.(Toast))
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestHubBroadcastsAndDropsBrokenSessions(t *testing.T) {
	h := NewHub(nil)
	h.now = func() time.Time { return time.Unix(100, 0) }
	good := &fakeConn{}
	bad := &fakeConn{fail: true}
	h.add(good)
	h.add(bad)

	h.Notify(KindError, "Sua sessão expirou. Faça login novamente.")

	require.Len(t, good.got, 1)
	assert.Equal(t, Toast{Kind: KindError, Message: "Sua sessão expirou. Faça login novamente.", At: time.Unix(100, 0)}, good.got[0])
	assert.True(t, bad.closed)
	assert.Equal(t, 1, h.Len())
}

func TestSendUnknownSession(t *testing.T) {
	h := NewHub(nil)
	assert.ErrorIs(t, h.Send("nope", Toast{}), ErrNoSession)
}

func TestRemoveClosesConnection(t *testing.T) {
	h := NewHub(nil)
	c := &fakeConn{}
	id := h.add(c)
	h.Remove(id)
	assert.True(t, c.closed)
	assert.Zero(t, h.Len())
}
