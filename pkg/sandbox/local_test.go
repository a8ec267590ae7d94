package sandbox_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-protocol/boxlite/pkg/sandbox"
)

func TestExecBeforeStartFails(t *testing.T) {
	ctx := context.Background()
	sb := sandbox.NewLocalProcessSandbox()
	h, err := sb.Create(ctx, "b", sandbox.Resources{})
	require.NoError(t, err)

	_, err = sb.Exec(ctx, h, []string{"/bin/true"}, nil)
	require.Error(t, err)
}

func TestExecEmptyArgvFails(t *testing.T) {
	ctx := context.Background()
	sb := sandbox.NewLocalProcessSandbox()
	h, err := sb.Create(ctx, "b", sandbox.Resources{})
	require.NoError(t, err)
	require.NoError(t, sb.Start(ctx, h))

	_, err = sb.Exec(ctx, h, nil, nil)
	require.Error(t, err)
}

func TestStopOnNeverStartedHandleIsNoop(t *testing.T) {
	ctx := context.Background()
	sb := sandbox.NewLocalProcessSandbox()
	h, err := sb.Create(ctx, "b", sandbox.Resources{})
	require.NoError(t, err)

	assert.NoError(t, sb.Stop(ctx, h))
}

func TestExecRunsRealProcess(t *testing.T) {
	ctx := context.Background()
	sb := sandbox.NewLocalProcessSandbox()
	h, err := sb.Create(ctx, "b", sandbox.Resources{})
	require.NoError(t, err)
	require.NoError(t, sb.Start(ctx, h))

	execn, err := sb.Exec(ctx, h, []string{"/bin/cat"}, nil)
	require.NoError(t, err)
	require.NoError(t, execn.Stdin.Close())

	code, err := execn.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
