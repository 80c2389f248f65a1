package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/logging"
)

type fakeConn struct {
	writes  [][]byte
	closed  bool
	failAt  int
	written int
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.written++
	if f.failAt > 0 && f.written >= f.failAt {
		return errWriteFailed
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error { return nil }
func (f *fakeConn) SetWriteDeadline(_ time.Time) error              { return nil }
func (f *fakeConn) Close() error                                   { f.closed = true; return nil }

type writeFailedErr struct{}

func (writeFailedErr) Error() string { return "write failed" }

var errWriteFailed = writeFailedErr{}

func TestPumpForwardsEventsUntilChannelCloses(t *testing.T) {
	log := logging.New(logging.Config{Level: "error", Format: "text", Output: "stderr"})
	bus := eventbus.New(log)
	defer bus.Stop()

	sub := bus.Subscribe("build-1")
	sub.Events <- event.New("build-1", event.TypeBuildStarted, nil)
	close(sub.Events)

	conn := &fakeConn{}
	err := Pump(conn, sub, log)
	require.NoError(t, err)
	require.Len(t, conn.writes, 1)
}

func TestPumpReturnsErrorOnWriteFailure(t *testing.T) {
	log := logging.New(logging.Config{Level: "error", Format: "text", Output: "stderr"})
	bus := eventbus.New(log)
	defer bus.Stop()

	sub := bus.Subscribe("build-2")
	sub.Events <- event.New("build-2", event.TypeBuildStarted, nil)

	conn := &fakeConn{failAt: 1}
	err := Pump(conn, sub, log)
	require.Error(t, err)
}
