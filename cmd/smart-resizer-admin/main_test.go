package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/smart-resizer/internal/domain/format"
	"github.com/target/smart-resizer/internal/domain/model"
	"github.com/target/smart-resizer/internal/domain/pricing"
)

func TestPrintUsageListsCommandsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	assert.Contains(t, out, "Usage: smart-resizer-admin")
	assert.Less(t, strings.Index(out, "db-reset"), strings.Index(out, "migrate"))
	assert.Less(t, strings.Index(out, "migrate"), strings.Index(out, "quote"))
}

func TestRenderFormats_Platform(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFormats(&buf, format.Builtin(), formatsOptions{Platform: "YouTube"}))

	out := buf.String()
	assert.Contains(t, out, "youtube_thumbnail")
	assert.Contains(t, out, "1280x720")
	assert.NotContains(t, out, "instagram_square")
	assert.NotContains(t, out, "Packs:")
}

func TestRenderFormats_AllWithPacks(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFormats(&buf, format.Builtin(), formatsOptions{}))
	assert.Contains(t, buf.String(), "Packs:")
	assert.Contains(t, buf.String(), "social_essentials")
}

func TestRenderFormats_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFormats(&buf, format.Builtin(), formatsOptions{Platform: "tiktok", JSON: true}))

	var body struct {
		Formats []format.Spec `json:"formats"`
		Packs   []format.Pack `json:"packs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	require.Len(t, body.Formats, 1)
	assert.Equal(t, "tiktok_cover", body.Formats[0].Key)
	assert.NotEmpty(t, body.Packs)
}

func TestRenderFormats_UnknownPlatform(t *testing.T) {
	err := renderFormats(&bytes.Buffer{}, format.Builtin(), formatsOptions{Platform: "myspace"})
	require.ErrorIs(t, err, format.ErrUnknownPlatform)
}

func TestRenderQuote(t *testing.T) {
	calc := pricing.MustNewCalculator(pricing.DefaultTable())

	var buf bytes.Buffer
	require.NoError(t, renderQuote(&buf, calc, quoteOptions{Tier: "flash", Units: 1}))
	assert.Equal(t, "flash x1: cost $0.0390, revenue $0.1000, profit $0.0610\n", buf.String())

	buf.Reset()
	require.NoError(t, renderQuote(&buf, calc, quoteOptions{Tier: "pro", Resolution: "4K", Units: 3}))
	assert.Equal(t, "pro 4k x3: cost $0.7200, revenue $1.5000, profit $0.7800\n", buf.String())

	err := renderQuote(&bytes.Buffer{}, calc, quoteOptions{Tier: "ultra", Units: 1})
	require.ErrorIs(t, err, pricing.ErrUnknownTier)
}

func TestParseQuoteFlags(t *testing.T) {
	opts, err := parseQuoteFlags([]string{"--tier", "pro", "--resolution", "2k", "--units", "4"})
	require.NoError(t, err)
	assert.Equal(t, quoteOptions{Tier: "pro", Resolution: "2k", Units: 4}, opts)

	_, err = parseQuoteFlags([]string{"--units", "-1"})
	require.Error(t, err)
}

func TestParseTimeoutFlags(t *testing.T) {
	opts, err := parseTimeoutFlags("status", nil, defaultCommandTimeout)
	require.NoError(t, err)
	assert.Equal(t, defaultCommandTimeout, opts.Timeout)

	_, err = parseTimeoutFlags("status", []string{"--timeout", "0s"}, defaultCommandTimeout)
	require.Error(t, err)
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderStatus(&buf, statusReport{
		Latest: "0001_init",
		Queue:  &model.TaskStats{Pending: 2, Running: 1, Completed: 9, Failed: 1},
	}))
	assert.Contains(t, buf.String(), "Schema: up to date")
	assert.Contains(t, buf.String(), "pending=2 running=1 completed=9 failed=1")

	buf.Reset()
	require.NoError(t, renderStatus(&buf, statusReport{Latest: "0001_init", Pending: []string{"0001_init"}}))
	assert.Contains(t, buf.String(), "1 pending (0001_init)")
	assert.Contains(t, buf.String(), "Queue: unavailable")
}

func TestIsLikelyRemoteHost(t *testing.T) {
	for host, want := range map[string]bool{
		"":                false,
		"localhost":       false,
		"127.0.0.1":       false,
		"::1":             false,
		"db.local":        false,
		"10.0.0.5":        true,
		"db.prod.example": true,
		"127.0.0.2":       false,
	} {
		assert.Equal(t, want, isLikelyRemoteHost(host), host)
	}
}

func TestResetStatements(t *testing.T) {
	stmts := resetStatements(`res"izer`)
	require.Len(t, stmts, 4)
	assert.Equal(t, `GRANT ALL ON SCHEMA public TO "res""izer"`, stmts[3])
	assert.Len(t, resetStatements("public"), 3)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, confirm(strings.NewReader("yes\n"), &out, "Reset?"))
	assert.Contains(t, out.String(), "Continue? [y/N]")

	require.Error(t, confirm(strings.NewReader("n\n"), &out, "Reset?"))
	require.Error(t, confirm(strings.NewReader(""), &out, "Reset?"))
}
