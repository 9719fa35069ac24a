package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/Andria35/SmartRoom/internal/model"
	"github.com/Andria35/SmartRoom/pkg/broker"
	"github.com/Andria35/SmartRoom/pkg/dedup"
)

type sinkRecorder struct {
	statuses  []string
	snapshots []model.SensorSnapshot
	errs      []error
}

func newTestSink(d *dedup.Deduper) (*Sink, *fakeSession, *sinkRecorder) {
	sess := &fakeSession{}
	rec := &sinkRecorder{}
	k := NewSink(sess, SinkConfig{
		Topic:         "smartroom/test",
		Dedup:         d,
		OnSnapshot:    func(s model.SensorSnapshot) { rec.snapshots = append(rec.snapshots, s) },
		OnStatus:      func(s string) { rec.statuses = append(rec.statuses, s) },
		OnDecodeError: func(err error) { rec.errs = append(rec.errs, err) },
		Now:           func() time.Time { return time.Unix(1700000000, 0) },
	}, discardLogger())
	return k, sess, rec
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSinkStatusSequence(t *testing.T) {
	k, sess, rec := newTestSink(nil)

	k.ConnectAndSubscribe()
	if len(sess.subs) != 1 || sess.subs[0].Filter != "smartroom/test" {
		t.Fatalf("subscriptions = %+v", sess.subs)
	}
	sess.set(broker.State{Phase: broker.Connected})
	sess.subs[0].OnResult(nil)

	want := []string{StatusConnecting, StatusSubscribing, StatusListening}
	if !equalStrings(rec.statuses, want) {
		t.Errorf("statuses = %v, want %v", rec.statuses, want)
	}
	if k.Status() != StatusListening {
		t.Errorf("Status() = %q", k.Status())
	}
}

func TestSinkConnectFailure(t *testing.T) {
	k, sess, rec := newTestSink(nil)
	k.ConnectAndSubscribe()
	sess.set(broker.State{Phase: broker.Failed, Reason: "refused"})

	want := []string{StatusConnecting, StatusFailed}
	if !equalStrings(rec.statuses, want) {
		t.Errorf("statuses = %v, want %v", rec.statuses, want)
	}

	// retry does not register the subscription twice
	k.ConnectAndSubscribe()
	if len(sess.subs) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(sess.subs))
	}
	if sess.connects != 2 {
		t.Errorf("connects = %d, want 2", sess.connects)
	}
}

func TestSinkSubscribeFailure(t *testing.T) {
	k, sess, _ := newTestSink(nil)
	k.ConnectAndSubscribe()
	sess.set(broker.State{Phase: broker.Connected})
	sess.subs[0].OnResult(errors.New("not authorized"))
	if k.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", k.Status(), StatusFailed)
	}
}

func TestSinkDisconnectStatus(t *testing.T) {
	k, sess, _ := newTestSink(nil)
	k.ConnectAndSubscribe()
	sess.set(broker.State{Phase: broker.Connected})
	sess.set(broker.State{Phase: broker.Disconnected})
	if k.Status() != StatusDisconnected {
		t.Fatalf("Status() = %q", k.Status())
	}
	// later transitions are ignored until the sink is asked to listen again
	sess.set(broker.State{Phase: broker.Connecting})
	if k.Status() != StatusDisconnected {
		t.Errorf("inactive sink changed status to %q", k.Status())
	}
}

func TestSinkIgnoresStateUntilAsked(t *testing.T) {
	k, sess, rec := newTestSink(nil)
	sess.set(broker.State{Phase: broker.Connected})
	if len(rec.statuses) != 0 || k.Status() != StatusIdle {
		t.Errorf("idle sink reported %v", rec.statuses)
	}
}

func TestSinkMessages(t *testing.T) {
	k, sess, rec := newTestSink(nil)
	k.ConnectAndSubscribe()
	sess.set(broker.State{Phase: broker.Connected})
	on := sess.subs[0].OnMessage

	on("smartroom/test", []byte(`{"light":10,"ax":1,"ay":2,"az":3,"sound":400}`))
	on("smartroom/test", []byte(`{"light":garbage}`))
	on("smartroom/test", []byte(`{"light":11,"ax":1,"ay":2,"az":3}`))

	if len(rec.snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(rec.snapshots))
	}
	if len(rec.errs) != 1 || !errors.Is(rec.errs[0], ErrDecode) {
		t.Errorf("decode errors = %v", rec.errs)
	}
	latest, ok := k.Latest()
	want := model.SensorSnapshot{IlluminanceLux: 11, AccelX: 1, AccelY: 2, AccelZ: 3, SoundAmplitude: 400}
	if !ok || latest != want {
		t.Errorf("latest = %+v (ok=%v), want %+v", latest, ok, want)
	}
	received, dropped := k.Counts()
	if received != 2 || dropped != 1 {
		t.Errorf("counts = %d/%d, want 2/1", received, dropped)
	}
	if !k.LastReceived().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("LastReceived = %v", k.LastReceived())
	}
}

func TestSinkDropsDuplicatePayloads(t *testing.T) {
	k, sess, rec := newTestSink(dedup.New(time.Minute, 16))
	k.ConnectAndSubscribe()
	sess.set(broker.State{Phase: broker.Connected})

	p := []byte(`{"light":5}`)
	sess.subs[0].OnMessage("smartroom/test", p)
	sess.subs[0].OnMessage("smartroom/test", p)

	if len(rec.snapshots) != 1 {
		t.Errorf("snapshots = %d, want 1", len(rec.snapshots))
	}
}
