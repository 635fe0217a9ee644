package plan

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlog "github.com/gwillem/dofbot/internal/log"
	"github.com/gwillem/dofbot/pkg/actuator"
	"github.com/gwillem/dofbot/pkg/client"
	"github.com/gwillem/dofbot/pkg/robot"
)

// TestRun_CancelFinishesCurrentStep drives a real client against a device
// whose moves take a while, and cancels in the middle of the first move.
func TestRun_CancelFinishesCurrentStep(t *testing.T) {
	var moves, finished atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == actuator.PathSetAngles {
			moves.Add(1)
			time.Sleep(200 * time.Millisecond)
			finished.Add(1)
		}
		io.WriteString(w, `{"status":"OK","angles":[90,90,90,90,90,90]}`)
	}))
	defer srv.Close()

	logger := dlog.Discard()
	cl, err := client.New(context.Background(), client.Config{BaseURL: srv.URL, Logger: logger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	var done []int
	e := &Executor{Arm: cl, StepDuration: 100 * time.Millisecond, Logger: logger,
		OnStep: func(p Progress) { done = append(done, p.Step) }}
	err = e.Run(ctx, threeSteps())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stepErr.Step, "cancellation is observed before step 2")
	assert.Equal(t, []int{1}, done, "step 1 ran to completion")
	assert.Equal(t, int32(1), moves.Load())
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, client.Connected, cl.State(), "a healthy device stays connected")
}

// interruptingArm cancels the run while its move is in progress and records
// whether the move's own context saw that.
type interruptingArm struct {
	cancel    context.CancelFunc
	cancelled []bool
}

func (a *interruptingArm) WriteAngles(ctx context.Context, target robot.JointAngles, _ time.Duration) (robot.JointAngles, error) {
	a.cancel()
	a.cancelled = append(a.cancelled, ctx.Err() != nil)
	return target.Clone(), nil
}

func TestRun_StepContextIgnoresCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	arm := &interruptingArm{cancel: cancel}

	err := (&Executor{Arm: arm}).Run(ctx, threeSteps())

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, stepErr.Step)
	assert.Equal(t, []bool{false}, arm.cancelled)
}
