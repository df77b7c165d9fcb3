package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsBeforeHandingOut(t *testing.T) {
	mr := miniredis.RunT(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	client, err := New(ctx, mr.Addr())
	require.NoError(t, err)
	require.NoError(t, Close(client))
}

func TestCloseToleratesNilClient(t *testing.T) {
	require.NoError(t, Close(nil))
}
