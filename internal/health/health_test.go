package health

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCheckOKWhenBothReachable(t *testing.T) {
	p := New(fakePinger{}, fakePinger{})
	doc, status := p.Check(context.Background())
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", doc.Status)
	require.Equal(t, "ok", doc.Components["kvstore"].Status)
	require.Equal(t, "ok", doc.Components["eventbus"].Status)
}

func TestCheckDegradedWhenStoreUnreachable(t *testing.T) {
	p := New(fakePinger{err: errors.New("conn refused")}, fakePinger{})
	doc, status := p.Check(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "error", doc.Status)
	require.Equal(t, "error", doc.Components["kvstore"].Status)
	require.Equal(t, "ok", doc.Components["eventbus"].Status)
}

func TestCheckDegradedWhenEventBusUnreachable(t *testing.T) {
	p := New(fakePinger{}, fakePinger{err: errors.New("timeout")})
	doc, status := p.Check(context.Background())
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "error", doc.Components["eventbus"].Status)
}
