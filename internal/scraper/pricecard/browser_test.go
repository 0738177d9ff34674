package pricecard

import (
	"errors"
	"testing"
)

type fakeLauncher struct {
	launchErr error
	killed    int
}

func (l *fakeLauncher) Launch() (string, error) {
	if l.launchErr != nil {
		return "", l.launchErr
	}
	return "ws://127.0.0.1:9222/devtools", nil
}

func (l *fakeLauncher) Kill() { l.killed++ }

type fakeConn struct {
	connectErr error
	closed     bool
}

func (c *fakeConn) Connect() error { return c.connectErr }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestLaunchWithKillsProcessOnConnectFailure(t *testing.T) {
	l := &fakeLauncher{}
	conn := &fakeConn{connectErr: errors.New("websocket refused")}

	_, closeFn, err := launchWith(l, func(string) *fakeConn { return conn })
	if err == nil || closeFn != nil {
		t.Fatalf("expected connect error, got err=%v", err)
	}
	if l.killed != 1 {
		t.Errorf("browser process killed %d times; want 1", l.killed)
	}
}

func TestLaunchWithLaunchFailure(t *testing.T) {
	l := &fakeLauncher{launchErr: errors.New("no chrome")}
	called := false
	_, _, err := launchWith(l, func(string) *fakeConn {
		called = true
		return &fakeConn{}
	})
	if err == nil || called || l.killed != 0 {
		t.Errorf("err=%v connectCalled=%v killed=%d", err, called, l.killed)
	}
}

func TestLaunchWithCloseReleasesBrowser(t *testing.T) {
	l := &fakeLauncher{}
	conn := &fakeConn{}
	got, closeFn, err := launchWith(l, func(string) *fakeConn { return conn })
	if err != nil {
		t.Fatalf("launchWith: %v", err)
	}
	if got != conn {
		t.Fatal("returned a different browser")
	}
	closeFn()
	if !conn.closed || l.killed != 1 {
		t.Errorf("closed=%v killed=%d", conn.closed, l.killed)
	}
}
