package workflow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattzcarey/sandbox-mcp/internal/workflow"
	"github.com/mattzcarey/sandbox-mcp/internal/workflow/inmem"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Message string `json:"message"`
}

func TestRegisterTypedStepAndStepRoundTrip(t *testing.T) {
	eng := inmem.New()
	require.NoError(t, workflow.RegisterTypedStep(eng, "greet", func(_ context.Context, in greetInput) (greetOutput, error) {
		return greetOutput{Message: "hello " + in.Name}, nil
	}))
	require.NoError(t, eng.RegisterWorkflow("greeter", func(ctx workflow.StepContext, input []byte) ([]byte, error) {
		out, err := workflow.Step[greetInput, greetOutput](ctx, "greet", greetInput{Name: "ada"})
		if err != nil {
			return nil, err
		}
		return []byte(out.Message), nil
	}))

	h, err := eng.StartWorkflow(context.Background(), workflow.StartRequest{ID: "r1", Workflow: "greeter"})
	require.NoError(t, err)

	out, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello ada", string(out))
}
