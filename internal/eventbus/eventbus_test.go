package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPingWithNoBrokersConfiguredIsANoop(t *testing.T) {
	b := New(nil, "topic", nil)
	require.NoError(t, b.Ping(context.Background()))
}

func TestCloseWithoutPublishIsANoop(t *testing.T) {
	b := New([]string{"localhost:9092"}, "topic", nil)
	require.NoError(t, b.Close())
}
