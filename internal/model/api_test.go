package model

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAppRequestValidate(t *testing.T) {
	assert.NoError(t, CreateAppRequest{Name: "Fixture"}.Validate())
	assert.Error(t, CreateAppRequest{}.Validate())
	assert.Error(t, CreateAppRequest{Name: strings.Repeat("x", MaxNameLen+1)}.Validate())
}

func TestCreateRunRequestValidate(t *testing.T) {
	valid := CreateRunRequest{AppID: uuid.New(), Name: "weekly"}
	assert.NoError(t, valid.Validate())

	assert.Error(t, CreateRunRequest{Name: "no app"}.Validate())
	assert.Error(t, CreateRunRequest{AppID: uuid.New()}.Validate())
}

func TestPrebuiltQueryValidate(t *testing.T) {
	assert.NoError(t, PrebuiltQuery{Text: "best todo app", Priority: 10}.Validate())

	assert.Error(t, PrebuiltQuery{}.Validate(), "text required")
	assert.Error(t, PrebuiltQuery{Text: strings.Repeat("q", MaxQueryTextLen+1)}.Validate())
	assert.Error(t, PrebuiltQuery{Text: "q", Priority: MaxPriority + 1}.Validate())
	assert.Error(t, PrebuiltQuery{Text: "q", Priority: -1}.Validate())
	assert.Error(t, PrebuiltQuery{Text: "q", Category: strings.Repeat("c", MaxCategoryLen+1)}.Validate())

	vars := make(map[string]string, MaxVariables+1)
	for i := 0; i < MaxVariables+1; i++ {
		vars[strings.Repeat("k", i+1)] = "v"
	}
	assert.Error(t, PrebuiltQuery{Text: "q", Variables: vars}.Validate())
}

func TestStartRunRequestValidate(t *testing.T) {
	// Empty is valid: resuming a paused run needs no body at all.
	assert.NoError(t, StartRunRequest{}.Validate())

	queries := make([]PrebuiltQuery, MaxBatchQueries+1)
	for i := range queries {
		queries[i] = PrebuiltQuery{Text: "q"}
	}
	assert.Error(t, StartRunRequest{Queries: queries}.Validate())

	err := StartRunRequest{Queries: []PrebuiltQuery{{Text: "ok"}, {}}}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queries[1]")
}

func TestCreateTemplateRequestValidate(t *testing.T) {
	assert.NoError(t, CreateTemplateRequest{Text: "is {name} good"}.Validate())
	assert.Error(t, CreateTemplateRequest{}.Validate())
	assert.Error(t, CreateTemplateRequest{Text: "t", Priority: MaxPriority + 1}.Validate())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusPaused.Terminal())
	assert.True(t, RunStatusError.Terminal())
}
