package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/techcortex/buildcheck/internal/api"
	"github.com/techcortex/buildcheck/internal/bus"
	"github.com/techcortex/buildcheck/internal/cache"
	"github.com/techcortex/buildcheck/internal/catalog"
	"github.com/techcortex/buildcheck/internal/catalog/catalogtest"
	"github.com/techcortex/buildcheck/internal/domain"
	"github.com/techcortex/buildcheck/internal/repository"
	"github.com/techcortex/buildcheck/internal/rules"
	"github.com/techcortex/buildcheck/internal/validation"
	"github.com/techcortex/buildcheck/internal/worker"
)

const pipelineTenant = "shop-eu"

// pipeline wires the community tier end to end: SQLite store imported from
// a YAML catalog, LRU cache, channel bus, debounced worker and the API.
type pipeline struct {
	server  *httptest.Server
	repo    *repository.SQLRepository
	results chan domain.ValidationPublished
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	raw, err := yaml.Marshal(catalogtest.Catalog())
	require.NoError(t, err)
	catalogPath := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, raw, 0o644))

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "buildcheck.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	data, err := catalog.ReadFile(catalogPath)
	require.NoError(t, err)
	opts := catalog.DefaultOptions()
	stats, err := catalog.Import(ctx, repo, pipelineTenant, data, opts)
	require.NoError(t, err)
	require.Equal(t, len(data.Parts), stats.Parts)

	store, err := cache.New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	eventBus, err := bus.New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 100})
	require.NoError(t, err)
	t.Cleanup(func() { eventBus.Close() })

	source := catalog.NewSource(repo, store, opts, time.Minute)
	eval, err := rules.NewEvaluator()
	require.NoError(t, err)
	require.NoError(t, rules.RegisterBuiltins(eval))
	orchestrator := validation.NewOrchestrator(eval, domain.DefaultEngineConfig())

	w := worker.NewWorker(eventBus, repo, source, orchestrator)
	require.NoError(t, w.Start(worker.Config{TenantIDs: []string{pipelineTenant}, Debounce: 40 * time.Millisecond}))
	t.Cleanup(func() { w.Stop() })

	results := make(chan domain.ValidationPublished, 10)
	_, err = eventBus.Subscribe(ctx, pipelineTenant, domain.TopicValidationResult, func(ctx context.Context, msg *domain.Message) error {
		var event domain.ValidationPublished
		if err := bus.Decode(msg, &event); err != nil {
			return err
		}
		results <- event
		return nil
	})
	require.NoError(t, err)

	srv := api.NewServer(domain.ServerConfig{}, api.Dependencies{
		Repository:   repo,
		Cache:        store,
		Bus:          eventBus,
		Source:       source,
		Evaluator:    eval,
		Orchestrator: orchestrator,
		Version:      "pipeline",
	})
	server := httptest.NewServer(srv.Router())
	t.Cleanup(server.Close)

	return &pipeline{server: server, repo: repo, results: results}
}

func (p *pipeline) call(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, p.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, pipelineTenant)

	resp, err := p.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPipelineSynchronousValidation(t *testing.T) {
	p := newPipeline(t)

	cases := []struct {
		name      string
		selection domain.Selection
		status    domain.BuildStatus
		stage     domain.Stage
		ruleID    string
	}{
		{
			name:      "EmptyBuild",
			selection: domain.Selection{},
			status:    domain.StatusValid,
			stage:     domain.StageEmpty,
		},
		{
			name:      "ProcessorOnly",
			selection: domain.Selection{"processor": {catalogtest.CPUAM5}},
			status:    domain.StatusValid,
			stage:     domain.StageInsufficient,
		},
		{
			name:      "MatchingSocket",
			selection: domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM5}},
			status:    domain.StatusValid,
			stage:     domain.StageEvaluable,
		},
		{
			name:      "SocketMismatch",
			selection: domain.Selection{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM4}},
			status:    domain.StatusError,
			stage:     domain.StageEvaluable,
			ruleID:    "rule-01-socket",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var resp api.ValidateResponse
			code := p.call(t, http.MethodPost, "/validate", api.ValidateRequest{BuildID: "sync-" + tc.name, Selection: tc.selection}, &resp)
			require.Equal(t, http.StatusOK, code)

			assert.Equal(t, tc.status, resp.Result.Status)
			assert.Equal(t, tc.stage, resp.Result.Stage)
			if tc.ruleID != "" {
				require.NotEmpty(t, resp.Result.Issues)
				assert.Equal(t, tc.ruleID, resp.Result.Issues[0].RuleID)
			}

			var stored domain.Validation
			code = p.call(t, http.MethodGet, "/validations/"+resp.ValidationID, nil, &stored)
			require.Equal(t, http.StatusOK, code)
			assert.Equal(t, resp.Result.Status, stored.Result.Status)
			assert.Equal(t, pipelineTenant, stored.TenantID)
		})
	}
}

func TestPipelineDebouncedSelection(t *testing.T) {
	p := newPipeline(t)

	edits := []domain.Selection{
		{"processor": {catalogtest.CPUAM5}},
		{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM4}},
		{"processor": {catalogtest.CPUAM5}, "motherboard": {catalogtest.BoardAM5}, "memory": {catalogtest.RAMDDR5, catalogtest.RAMDDR5B}},
	}
	for _, sel := range edits {
		code := p.call(t, http.MethodPost, "/builds/cart-7/selection", api.SelectionRequest{Selection: sel}, nil)
		require.Equal(t, http.StatusAccepted, code)
	}

	var event domain.ValidationPublished
	select {
	case event = <-p.results:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced validation")
	}

	assert.Equal(t, "cart-7", event.BuildID)
	assert.Equal(t, uint64(3), event.Generation)
	assert.Equal(t, domain.StageEvaluable, event.Result.Stage)
	assert.True(t, event.Result.IsValid)

	select {
	case extra := <-p.results:
		t.Fatalf("superseded edits produced a result: %+v", extra)
	case <-time.After(120 * time.Millisecond):
	}

	var stored domain.Validation
	code := p.call(t, http.MethodGet, "/validations/"+event.ValidationID, nil, &stored)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(3), stored.Metadata.Generation)
	assert.Len(t, stored.Selection["memory"], 2)
}

func TestPipelineRuleChangeTakesEffect(t *testing.T) {
	p := newPipeline(t)

	mismatch := api.ValidateRequest{Selection: domain.Selection{
		"processor":   {catalogtest.CPUAM5},
		"motherboard": {catalogtest.BoardAM4},
	}}

	var before api.ValidateResponse
	require.Equal(t, http.StatusOK, p.call(t, http.MethodPost, "/validate", mismatch, &before))
	require.Equal(t, domain.StatusError, before.Result.Status)

	// An admin tool checks the relaxed rule, stores it, then asks replicas
	// to reload.
	rule := api.RuleRequest{
		ID:                   "rule-01-socket",
		Name:                 "CPU socket (AM4 and AM5 boards)",
		PrimaryCategoryID:    catalogtest.CPU,
		PrimaryAttributeID:   "tpl-cpu-socket",
		SecondaryCategoryID:  catalogtest.Board,
		SecondaryAttributeID: "tpl-mb-socket",
		RuleType:             "compatible_values",
		CompatibleValues:     []string{"AM4", "AM5"},
	}
	var checked api.RuleCheckResponse
	require.Equal(t, http.StatusOK, p.call(t, http.MethodPost, "/rules/check", rule, &checked))
	require.True(t, checked.Valid)
	require.NotNil(t, checked.Rule)

	require.NoError(t, p.repo.SaveRule(context.Background(), pipelineTenant, checked.Rule))
	require.Equal(t, http.StatusOK, p.call(t, http.MethodPost, "/catalog/reload", nil, nil))

	var after api.ValidateResponse
	require.Equal(t, http.StatusOK, p.call(t, http.MethodPost, "/validate", mismatch, &after))
	for _, f := range after.Result.Issues {
		assert.NotEqual(t, "rule-01-socket", f.RuleID)
	}
}
