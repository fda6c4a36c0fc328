package udpface

import (
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/ndn-torrent/ntd/ndn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newPair(t *testing.T) (*Face, *Face) {
	t.Helper()
	clk := clock.New()

	seeder, err := New("127.0.0.1:0", nil, clk, zaptest.NewLogger(t).Named("seeder"))
	require.NoError(t, err)
	t.Cleanup(seeder.Stop)

	leech, err := New("127.0.0.1:0", []Route{{
		Prefix: ndn.MustParseName("/peer/seeder"),
		Addr:   seeder.LocalAddr().String(),
	}}, clk, zaptest.NewLogger(t).Named("leech"))
	require.NoError(t, err)
	t.Cleanup(leech.Stop)

	return seeder, leech
}

func TestExpressAndServe(t *testing.T) {
	seeder, leech := newPair(t)

	payload := []byte("packet bytes")
	name := ndn.MustParseName("/ntd/demo/torrent-file/0").WithDigest(ndn.DigestOf(payload))

	registered := make(chan struct{})
	seeder.Publish(ndn.MustParseName("/ntd/demo"),
		func(i ndn.Interest) {
			seeder.Put(ndn.Data{Name: name, Bytes: payload})
		},
		func(ndn.Name) { close(registered) },
		func(p ndn.Name, err error) { t.Errorf("register failed: %s", err) })

	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("prefix was not registered")
	}

	got := make(chan ndn.Data, 1)
	leech.Express(ndn.NewInterest(name, ndn.MustParseName("/peer/seeder")),
		func(i ndn.Interest, d ndn.Data) { got <- d },
		func(n ndn.Name, reason string) { t.Errorf("unexpected failure: %s", reason) },
		func(i ndn.Interest, n ndn.Nack) { t.Errorf("unexpected nack: %s", n.Reason) })

	select {
	case d := <-got:
		require.True(t, d.Name.Equal(name))
		require.Equal(t, payload, d.Bytes)
	case <-time.After(5 * time.Second):
		t.Fatal("no data received")
	}
}

func TestUnpublishedPrefixIsNacked(t *testing.T) {
	_, leech := newPair(t)

	name := ndn.MustParseName("/ntd/other/torrent-file/0")
	nacked := make(chan string, 1)
	leech.Express(ndn.NewInterest(name, ndn.MustParseName("/peer/seeder")),
		func(i ndn.Interest, d ndn.Data) { t.Error("unexpected data") },
		func(n ndn.Name, reason string) { t.Errorf("unexpected failure: %s", reason) },
		func(i ndn.Interest, n ndn.Nack) { nacked <- n.Reason })

	select {
	case reason := <-nacked:
		require.Equal(t, "no route", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("no nack received")
	}
}

func TestNoRouteFailsImmediately(t *testing.T) {
	face, err := New("127.0.0.1:0", nil, clock.New(), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(face.Stop)

	failed := make(chan string, 1)
	face.Express(ndn.NewInterest(ndn.MustParseName("/ntd/demo/torrent-file/0"), ndn.MustParseName("/peer/unknown")),
		func(i ndn.Interest, d ndn.Data) { t.Error("unexpected data") },
		func(n ndn.Name, reason string) { failed <- reason },
		nil)

	select {
	case reason := <-failed:
		require.Contains(t, reason, "no route")
	case <-time.After(5 * time.Second):
		t.Fatal("no failure reported")
	}
}

func TestLifetimeExpiry(t *testing.T) {
	mock := clock.NewMock()

	// a peer that never answers
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { silent.Close() })

	face, err := New("127.0.0.1:0", []Route{{
		Prefix: ndn.MustParseName("/peer/silent"),
		Addr:   silent.LocalAddr().String(),
	}}, mock, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(face.Stop)

	expressed := make(chan struct{})
	failed := make(chan string, 1)
	face.Express(ndn.NewInterest(ndn.MustParseName("/ntd/demo/torrent-file/0"), ndn.MustParseName("/peer/silent")),
		func(i ndn.Interest, d ndn.Data) { t.Error("unexpected data") },
		func(n ndn.Name, reason string) { failed <- reason },
		func(i ndn.Interest, n ndn.Nack) { t.Errorf("unexpected nack: %s", n.Reason) })
	face.post(func() { close(expressed) })
	<-expressed

	mock.Add(3 * time.Second)

	select {
	case reason := <-failed:
		require.Contains(t, reason, "expired")
	case <-time.After(5 * time.Second):
		t.Fatal("lifetime did not expire")
	}
}
