package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sampleOptions struct {
	MTU         int
	RetransTime time.Duration
	Enabled     bool
	Label       string
}

func TestApplyCoercesLooselyTypedValues(t *testing.T) {
	opts := sampleOptions{MTU: 1500, RetransTime: time.Second}

	raw := map[string]any{
		"mtu":         float64(1280), // typical shape after decoding JSON
		"retranstime": "750ms",
		"enabled":     "true",
		"label":       42,
	}

	require.NoError(t, Apply(&opts, raw))
	require.Equal(t, 1280, opts.MTU)
	require.Equal(t, 750*time.Millisecond, opts.RetransTime)
	require.True(t, opts.Enabled)
	require.Equal(t, "42", opts.Label)
}

func TestApplyIgnoresUnknownKeys(t *testing.T) {
	opts := sampleOptions{MTU: 1500}
	require.NoError(t, Apply(&opts, map[string]any{"unrelated": "value"}))
	require.Equal(t, 1500, opts.MTU)
}

func TestApplyAcceptsDurationAsNanoseconds(t *testing.T) {
	opts := sampleOptions{}
	require.NoError(t, Apply(&opts, map[string]any{"RetransTime": float64(2 * time.Second)}))
	require.Equal(t, 2*time.Second, opts.RetransTime)
}

func TestApplyRejectsNonPointer(t *testing.T) {
	require.Error(t, Apply(sampleOptions{}, map[string]any{}))
}

func TestApplyRejectsUncoercibleValue(t *testing.T) {
	opts := sampleOptions{}
	require.Error(t, Apply(&opts, map[string]any{"MTU": "not-a-number"}))
}
