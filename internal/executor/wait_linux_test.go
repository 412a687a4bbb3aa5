package executor

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/koine/internal/testutil"
)

func TestAwaitExit_LeavesWorkerUnreaped(t *testing.T) {
	cmd := exec.Command(testutil.FakeWorker(t, `exit 3`))
	setProcAttr(cmd)
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	require.NoError(t, awaitExit(cmd))
	assert.Nil(t, cmd.ProcessState, "not reaped yet")
	assert.NoError(t, syscall.Kill(pid, 0), "pid still reserved")

	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestStart_ExitDisarmsKillTimer(t *testing.T) {
	worker := testutil.FakeWorker(t, `exec sleep 5`)
	p, err := newTestExecutor(WithKillGrace(50*time.Millisecond)).Start(context.Background(), Invocation{
		Binary: worker,
		Env:    testEnv(),
	})
	require.NoError(t, err)

	p.Terminate()
	for range p.Output() {
	}
	status := p.Wait()
	assert.Equal(t, "SIGTERM", status.Signal)

	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	assert.True(t, exited)
}
