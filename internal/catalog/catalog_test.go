package catalog

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestNormalizedMultiplier(t *testing.T) {
	tests := []struct {
		name    string
		in, out float64
		want    float64
	}{
		{"gemini flash", 0.0001, 0.0004, 0.325},
		{"gpt-3.5", 0.0005, 0.0015, 1.25},
		{"gpt-4o", 0.005, 0.015, 12.5},
		{"claude opus", 0.015, 0.075, 60},
		{"default", 0.001, 0.003, 2.5},
		{"gemini 1.5 flash", 0.000075, 0.0003, 0.24375},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NormalizedMultiplier(tt.in, tt.out), 1e-9)
		})
	}
}

func TestDefault(t *testing.T) {
	c, err := Default(testLogger())
	require.NoError(t, err)

	assert.InDelta(t, 0.325, c.Multiplier("gemini-2.5-flash"), 1e-9)
	assert.InDelta(t, 60, c.Multiplier("claude-3-opus-20240229"), 1e-9)
	assert.InDelta(t, 2.5, c.Multiplier("llama-3-70b"), 1e-9)
	assert.InDelta(t, 2.5, c.Multiplier(""), 1e-9)

	free := c.AllowedModels("free")
	assert.Len(t, free, 2)
	assert.Contains(t, free, "gemini-2.5-flash")
	assert.Contains(t, free, "gpt-3.5-turbo")

	pro := c.AllowedModels("pro")
	assert.Len(t, pro, len(c.Models()))

	assert.Empty(t, c.AllowedModels("platinum"))

	assert.Equal(t, "free", c.LowestTier("gpt-3.5-turbo"))
	assert.Equal(t, "pro", c.LowestTier("gpt-4o"))
	assert.Equal(t, "", c.LowestTier("unknown"))

	tier, ok := c.Tier("pro")
	require.True(t, ok)
	assert.Equal(t, int64(50000), tier.CreditsPerMonth)
	assert.Equal(t, 60, tier.RateLimitPerMinute)
}

func TestAllowedModels_ReturnsCopy(t *testing.T) {
	c, err := Default(testLogger())
	require.NoError(t, err)

	set := c.AllowedModels("free")
	set["gpt-4o"] = struct{}{}

	assert.NotContains(t, c.AllowedModels("free"), "gpt-4o")
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		data Data
	}{
		{"model without id", Data{Models: []Model{{Label: "x", InputCost1K: 1}}}},
		{"duplicate model", Data{Models: []Model{{ID: "a", Multiplier: 1}, {ID: "a", Multiplier: 1}}}},
		{"model without cost", Data{Models: []Model{{ID: "a"}}}},
		{"tier with unknown model", Data{
			Models: []Model{{ID: "a", Multiplier: 1}},
			Tiers:  []Tier{{ID: "free", AllowedModels: []string{"b"}}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.data, testLogger())
			assert.Error(t, err)
		})
	}
}

func TestExplicitMultiplierWins(t *testing.T) {
	c, err := New(Data{
		DefaultMultiplier: 4,
		Models:            []Model{{ID: "m", InputCost1K: 0.001, OutputCost1K: 0.003, Multiplier: 1}},
	}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1.0, c.Multiplier("m"))
	assert.Equal(t, 4.0, c.Multiplier("other"))
}

func TestReplace_KeepsCurrentOnError(t *testing.T) {
	c, err := Default(testLogger())
	require.NoError(t, err)

	err = c.Replace(Data{Models: []Model{{ID: ""}}})

	assert.Error(t, err)
	assert.InDelta(t, 0.325, c.Multiplier("gemini-2.5-flash"), 1e-9)
}

const overrideTOML = `
default_multiplier = 3.0

[[models]]
id = "house-model"
label = "House"
provider = "mock"
credit_multiplier = 1.5

[[tiers]]
id = "free"
name = "Free"
allowed_models = ["house-model"]
credits_per_month = 10
rate_limit_per_minute = 2
`

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(overrideTOML), 0o644))

	c, err := Open(path, testLogger())
	require.NoError(t, err)

	assert.Equal(t, 1.5, c.Multiplier("house-model"))
	assert.Equal(t, 3.0, c.Multiplier("gpt-4o"))
	assert.Contains(t, c.AllowedModels("free"), "house-model")
	tier, ok := c.Tier("free")
	require.True(t, ok)
	assert.Equal(t, int64(10), tier.CreditsPerMonth)
}

func TestOpen_EmptyPathUsesDefault(t *testing.T) {
	c, err := Open("", testLogger())
	require.NoError(t, err)

	assert.NotEmpty(t, c.Models())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.toml"), testLogger())
	assert.Error(t, err)
}

func TestOpen_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(overrideTOML), 0o644))

	c, err := Open(path, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1.5, c.Multiplier("house-model"))

	updated := []byte(`
[[models]]
id = "house-model"
label = "House"
provider = "mock"
credit_multiplier = 7.0
`)
	require.NoError(t, os.WriteFile(path, updated, 0o644))

	assert.Eventually(t, func() bool {
		return c.Multiplier("house-model") == 7.0
	}, 3*time.Second, 20*time.Millisecond)
}
