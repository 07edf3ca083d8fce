// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"runtime/debug"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/customer-engine/internal/secrets"
	"github.com/pdiddy/customer-engine/pkg/types"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(viper.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, "structure,dns", cfg.Validator.Tiers)
	assert.Equal(t, 2*time.Second, cfg.Validator.DNSTimeout)
	assert.Equal(t, 3, cfg.Analysis.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Analysis.BaseTimeout)
	assert.Equal(t, 12000, cfg.Analysis.PayloadBudget)
	assert.Equal(t, 2, cfg.Worker.Workers)
	assert.Equal(t, 50, cfg.Worker.LogWindow)
	assert.Equal(t, time.Hour, cfg.Worker.Retention)
	assert.Equal(t, types.StoreMemory, cfg.Store.Driver)
	assert.Equal(t, defaultUserAgent, cfg.Validator.UserAgent)
}

func TestLoadConfigFromYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
validator:
  tiers: structure,dns,http
analysis:
  provider: openai
  model: gpt-4o-mini
worker:
  workers: 4
  retention: 30m
sources:
  - name: fixtures
    kind: static
    file: testdata/customers.yaml
`)))

	cfg, err := loadConfig(v, map[string]string{secrets.KeyOpenAI: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, "structure,dns,http", cfg.Validator.Tiers)
	assert.Equal(t, types.ProviderOpenAI, cfg.Analysis.Provider)
	assert.Equal(t, "sk-test", cfg.Analysis.APIKey)
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Worker.Retention)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "static", cfg.Sources[0].Kind)
}

func TestLoadConfigRejectsBadTiers(t *testing.T) {
	v := viper.New()
	v.Set("validator.tiers", "structure,ping")
	_, err := loadConfig(v, nil)
	assert.ErrorContains(t, err, "validator.tiers")
}

type scriptedStatus struct {
	reports []types.StatusReport
	calls   int
}

func (s *scriptedStatus) GetStatus(context.Context, string) (types.StatusReport, error) {
	r := s.reports[min(s.calls, len(s.reports)-1)]
	s.calls++
	return r, nil
}

func TestPollPrintsChangesUntilTerminal(t *testing.T) {
	jobs := &scriptedStatus{reports: []types.StatusReport{
		{Status: types.StatusQueued, Progress: types.Progress{Percent: 0, Message: "Queued"}},
		{Status: types.StatusProcessing, Progress: types.Progress{Percent: 5, Message: "Started"}},
		{Status: types.StatusProcessing, Progress: types.Progress{Percent: 5, Message: "Started"}},
		{Status: types.StatusCompleted, Progress: types.Progress{Percent: 100, Message: "Done"}},
	}}
	var out bytes.Buffer

	report, err := poll(context.Background(), jobs, "j1", time.Millisecond, &out)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, report.Status)
	assert.Equal(t, "[  0%] Queued\n[  5%] Started\n[100%] Done\n", out.String())
}

func TestPollStopsOnCancel(t *testing.T) {
	jobs := &scriptedStatus{reports: []types.StatusReport{
		{Status: types.StatusProcessing, Progress: types.Progress{Percent: 10}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := poll(ctx, jobs, "j1", time.Hour, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}

func sampleReport() types.StatusReport {
	conf := 0.8
	return types.StatusReport{
		ID:          "j1",
		SubjectName: "Acme",
		Status:      types.StatusCompleted,
		Progress:    types.Progress{Percent: 100, Message: "Done"},
		Results: []types.ResultRecord{
			{SubjectName: "Acme", CandidateName: "Globex", CandidateURL: "https://globex.com", Source: "a", Confidence: &conf,
				Validation: types.ValidationResult{StructureValid: true, DNSValid: true, Requested: types.TierStructure | types.TierDNS}},
			{SubjectName: "Acme", CandidateName: "Initech", Source: "b"},
		},
		Metrics: types.Metrics{"duration_seconds": 1.5},
		Logs:    []types.LogEntry{},
	}
}

func TestWriteReportTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeReport(&out, sampleReport(), "table"))

	text := out.String()
	assert.Contains(t, text, "Subject: Acme")
	assert.Contains(t, text, "Results: 2")
	assert.Contains(t, text, "NAME")
	assert.Regexp(t, `Globex\s+https://globex.com\s+a\s+0.80\s+true`, text)
	assert.Regexp(t, `Initech\s+-\s+b\s+-\s+false`, text)
}

func TestWriteReportJSONAndYAML(t *testing.T) {
	var js bytes.Buffer
	require.NoError(t, writeReport(&js, sampleReport(), "json"))
	var decoded types.StatusReport
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "Globex", decoded.Results[0].CandidateName)

	var ym bytes.Buffer
	require.NoError(t, writeReport(&ym, sampleReport(), "yaml"))
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &generic))
	assert.Equal(t, "Acme", generic["subject_name"])
	assert.Equal(t, "completed", generic["status"])
}

func TestVersionString(t *testing.T) {
	assert.Equal(t, "customer-engine 1.2.0", versionString("1.2.0", nil))

	info := &debug.BuildInfo{
		GoVersion: "go1.25.6",
		Main:      debug.Module{Path: "github.com/pdiddy/customer-engine", Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	assert.Equal(t, "customer-engine v0.3.1 (go1.25.6, 0123456789ab-dirty)", versionString("dev", info))
	assert.Equal(t, "customer-engine 2.0.0 (go1.25.6, 0123456789ab-dirty)", versionString("2.0.0", info))

	info.Main.Version = "(devel)"
	info.Settings = nil
	assert.Equal(t, "customer-engine dev (go1.25.6)", versionString("dev", info))
}
