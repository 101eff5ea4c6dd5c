package resolve

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(lookup lookupFunc, servers ...string) *Resolver {
	return &Resolver{
		Servers:       servers,
		LocalTimeout:  50 * time.Millisecond,
		RemoteTimeout: 100 * time.Millisecond,
		lookup:        lookup,
	}
}

func TestLookup_IPLiteral(t *testing.T) {
	r := newTestResolver(func(context.Context, string, string) ([]string, error) {
		t.Fatal("lookup must not run for IP literals")
		return nil, nil
	})
	ip, err := r.Lookup(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestLookup_LocalPrefersIPv4(t *testing.T) {
	r := newTestResolver(func(_ context.Context, host, server string) ([]string, error) {
		assert.Empty(t, server)
		return []string{"2001:db8::1", "192.0.2.10"}, nil
	})
	ip, err := r.Lookup(context.Background(), "tandem.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", ip)
}

func TestLookup_FallsBackToPublicDNS(t *testing.T) {
	var remote atomic.Int32
	r := newTestResolver(func(_ context.Context, host, server string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("system resolver broken")
		case "bad":
			remote.Add(1)
			return nil, errors.New("refused")
		default:
			remote.Add(1)
			return []string{"192.0.2.20"}, nil
		}
	}, "bad", "good")

	ip, err := r.Lookup(context.Background(), "tandem.example")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.20", ip)
	assert.NotZero(t, remote.Load())
}

func TestLookup_AllFail(t *testing.T) {
	r := newTestResolver(func(context.Context, string, string) ([]string, error) {
		return nil, nil
	}, "a", "b")
	_, err := r.Lookup(context.Background(), "tandem.example")
	assert.ErrorContains(t, err, "all 2 public DNS servers failed")

	r.Servers = nil
	_, err = r.Lookup(context.Background(), "tandem.example")
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestLookup_RaceTimeout(t *testing.T) {
	r := newTestResolver(func(ctx context.Context, host, server string) ([]string, error) {
		if server == "" {
			return nil, errors.New("nope")
		}
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		return nil, ctx.Err()
	}, "slow")
	_, err := r.Lookup(context.Background(), "tandem.example")
	assert.ErrorContains(t, err, "timed out")
}

func TestDialContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			conn.Close()
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	r := newTestResolver(func(context.Context, string, string) ([]string, error) {
		return []string{"127.0.0.1"}, nil
	})
	conn, err := r.DialContext(context.Background(), "tcp", net.JoinHostPort("tandem.example", port))
	require.NoError(t, err)
	conn.Close()
}

func TestTrimBrackets(t *testing.T) {
	assert.Equal(t, "2606:4700:4700::1111", trimBrackets("[2606:4700:4700::1111]"))
	assert.Equal(t, "1.1.1.1", trimBrackets("1.1.1.1"))
}
