package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())

	assert.Equal(t, DefaultControlLoopPeriod, opts.ControlLoopPeriod)
	assert.Equal(t, DefaultDeploymentScalingConfigMapName, opts.ConfigMapName)
	assert.False(t, opts.DirectScaling)
	assert.NotNil(t, opts.ZapOptions.Level)
}

func TestOptionsPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
namespace: from-file
control-loop-period: 5s
look-back-period: 1m
prometheus-address: http://file:9090
`), 0o600))
	t.Setenv("SERVE_LOOK_BACK_PERIOD", "45s")
	t.Setenv("SERVE_DIRECT_SCALING", "true")

	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config-file", file, "--namespace", "from-flag"}))
	require.NoError(t, opts.Complete())
	require.NoError(t, opts.Validate())

	assert.Equal(t, "from-flag", opts.Namespace, "flags win over the file")
	assert.Equal(t, 45*time.Second, opts.LookBackPeriod, "environment wins over the file")
	assert.Equal(t, 5*time.Second, opts.ControlLoopPeriod, "file wins over defaults")
	assert.Equal(t, "http://file:9090", opts.PrometheusAddress)
	assert.True(t, opts.DirectScaling)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "zero period", mutate: func(o *Options) { o.ControlLoopPeriod = 0 }},
		{name: "zero look-back", mutate: func(o *Options) { o.LookBackPeriod = 0 }},
		{name: "empty namespace", mutate: func(o *Options) { o.Namespace = "" }},
		{name: "empty config map", mutate: func(o *Options) { o.ConfigMapName = "" }},
		{name: "empty prometheus address", mutate: func(o *Options) { o.PrometheusAddress = "" }},
		{name: "negative verbosity", mutate: func(o *Options) { o.LogVerbosity = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.mutate(opts)
			assert.Error(t, opts.Validate())
		})
	}
}

func TestOptionsCompleteRequiresFlags(t *testing.T) {
	assert.Error(t, NewOptions().Complete())
}
