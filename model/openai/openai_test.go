package openai

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/medmesh/core"
	"github.com/hupe1980/medmesh/model"
)

func TestBuildMessages(t *testing.T) {
	req := model.Request{
		Instructions: "You are the orchestrator.",
		Contents: []core.Content{
			core.NewUserContent("hello"),
			core.NewFunctionCallContent(core.FunctionCall{ID: "c1", Name: "research_agent", Arguments: `{"input":"x"}`}),
			core.NewFunctionResponseContent(core.FunctionResponse{ID: "c1", Name: "research_agent", Response: "found"}),
			core.NewAssistantContent("done"),
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	require.NotNil(t, msgs[0].OfSystem)
	require.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	require.Len(t, msgs[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "c1", msgs[2].OfAssistant.ToolCalls[0].ID)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "c1", msgs[3].OfTool.ToolCallID)
	require.NotNil(t, msgs[4].OfAssistant)
}

func TestConvertCompletion(t *testing.T) {
	resp := &openai.ChatCompletion{
		ID: "cmpl-1",
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ChatCompletionMessageToolCall{{
					ID:       "call_1",
					Function: openai.ChatCompletionMessageToolCallFunction{Name: "search_pubmed", Arguments: `{"query":"asthma"}`},
				}},
			},
		}},
	}

	r, err := convertCompletion(resp)
	require.NoError(t, err)
	calls := r.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search_pubmed", calls[0].Name)
	assert.Equal(t, "tool_calls", r.FinishReason)

	_, err = convertCompletion(&openai.ChatCompletion{})
	assert.Error(t, err)
}
