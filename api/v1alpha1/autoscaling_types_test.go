package v1alpha1

import (
	"encoding/json"
	"errors"
	"testing"

	"k8s.io/utils/ptr"
)

func TestAutoscalingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AutoscalingConfig)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *AutoscalingConfig) {},
		},
		{
			name: "scale to zero bounds are valid",
			mutate: func(c *AutoscalingConfig) {
				c.MinReplicas = 0
				c.MaxReplicas = 10
			},
		},
		{
			name: "min greater than max",
			mutate: func(c *AutoscalingConfig) {
				c.MinReplicas = 5
				c.MaxReplicas = 2
			},
			wantErr: true,
		},
		{
			name:    "negative min",
			mutate:  func(c *AutoscalingConfig) { c.MinReplicas = -1 },
			wantErr: true,
		},
		{
			name:    "zero target",
			mutate:  func(c *AutoscalingConfig) { c.TargetOngoingRequestsPerReplica = 0 },
			wantErr: true,
		},
		{
			name:    "negative target",
			mutate:  func(c *AutoscalingConfig) { c.TargetOngoingRequestsPerReplica = -2 },
			wantErr: true,
		},
		{
			name: "initial replicas outside bounds",
			mutate: func(c *AutoscalingConfig) {
				c.MaxReplicas = 4
				c.InitialReplicas = ptr.To(5)
			},
			wantErr: true,
		},
		{
			name:    "zero upscale smoothing factor",
			mutate:  func(c *AutoscalingConfig) { c.UpscaleSmoothingFactor = ptr.To(0.0) },
			wantErr: true,
		},
		{
			name:    "negative downscale delay",
			mutate:  func(c *AutoscalingConfig) { c.DownscaleDelaySeconds = -1 },
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultAutoscalingConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAutoscalingConfig) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidAutoscalingConfig", err)
			}
		})
	}
}

func TestSmoothingFactorFallback(t *testing.T) {
	c := DefaultAutoscalingConfig()
	if got := c.GetUpscaleSmoothingFactor(); got != 1.0 {
		t.Errorf("GetUpscaleSmoothingFactor() = %v, want 1.0", got)
	}

	c.SmoothingFactor = 2.0
	if got := c.GetDownscaleSmoothingFactor(); got != 2.0 {
		t.Errorf("GetDownscaleSmoothingFactor() = %v, want 2.0", got)
	}

	c.UpscaleSmoothingFactor = ptr.To(3.0)
	c.DownscaleSmoothingFactor = ptr.To(0.5)
	if got := c.GetUpscaleSmoothingFactor(); got != 3.0 {
		t.Errorf("GetUpscaleSmoothingFactor() = %v, want 3.0", got)
	}
	if got := c.GetDownscaleSmoothingFactor(); got != 0.5 {
		t.Errorf("GetDownscaleSmoothingFactor() = %v, want 0.5", got)
	}

	c.SmoothingFactor = 0
	c.UpscaleSmoothingFactor = nil
	if got := c.GetUpscaleSmoothingFactor(); got != DefaultSmoothingFactor {
		t.Errorf("GetUpscaleSmoothingFactor() with unset factors = %v, want %v", got, DefaultSmoothingFactor)
	}
}

func TestCapacityAdjustedReplicas(t *testing.T) {
	tests := []struct {
		name     string
		raw      int
		capacity *float64
		want     int
	}{
		{name: "nil capacity", raw: 7, capacity: nil, want: 7},
		{name: "full capacity", raw: 7, capacity: ptr.To(1.0), want: 7},
		{name: "half capacity rounds up", raw: 5, capacity: ptr.To(0.5), want: 3},
		{name: "exact product is not bumped", raw: 10, capacity: ptr.To(0.3), want: 3},
		{name: "tiny capacity keeps one replica", raw: 10, capacity: ptr.To(0.01), want: 1},
		{name: "zero capacity", raw: 10, capacity: ptr.To(0.0), want: 0},
		{name: "zero raw", raw: 0, capacity: ptr.To(0.5), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CapacityAdjustedReplicas(tt.raw, tt.capacity); got != tt.want {
				t.Errorf("CapacityAdjustedReplicas(%d) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidateTargetCapacity(t *testing.T) {
	for _, c := range []float64{0, 0.25, 1} {
		if err := ValidateTargetCapacity(c); err != nil {
			t.Errorf("ValidateTargetCapacity(%v) unexpected error: %v", c, err)
		}
	}
	for _, c := range []float64{-0.1, 1.5} {
		if err := ValidateTargetCapacity(c); err == nil {
			t.Errorf("ValidateTargetCapacity(%v) succeeded unexpectedly", c)
		}
	}
}

func TestInitialReplicasJSON(t *testing.T) {
	var c AutoscalingConfig
	if err := json.Unmarshal([]byte(`{"minReplicas":1,"maxReplicas":4,"targetOngoingRequestsPerReplica":2}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.InitialReplicas != nil {
		t.Errorf("InitialReplicas = %v, want nil when omitted", *c.InitialReplicas)
	}
	if err := json.Unmarshal([]byte(`{"initialReplicas":0}`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.InitialReplicas == nil || *c.InitialReplicas != 0 {
		t.Errorf("InitialReplicas = %v, want explicit 0", c.InitialReplicas)
	}
}
