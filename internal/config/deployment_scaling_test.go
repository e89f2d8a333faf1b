package config

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/utils/ptr"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
)

func TestParseDeploymentScalingConfigMap(t *testing.T) {
	data := map[string]string{
		GlobalDefaultsKey: `
minReplicas: 1
maxReplicas: 20
targetOngoingRequestsPerReplica: 2
upscaleDelaySeconds: 10
`,
		"llama": `
deployment: llama
minReplicas: 0
initialReplicas: 2
downscaleSmoothingFactor: 0.5
`,
		"llama-dup": `
deployment: llama
minReplicas: 5
`,
		"broken":      "minReplicas: [",
		"no-name":     "minReplicas: 3",
		"bad-bounds":  "deployment: mistral\nminReplicas: 30",
		"granite-cfg": "deployment: granite\nmaxReplicas: 4",
	}

	got := ParseDeploymentScalingConfigMap(data)

	if diff := cmp.Diff([]string{"granite", "llama"}, got.Deployments()); diff != "" {
		t.Fatalf("Deployments() mismatch (-want +got):\n%s", diff)
	}
	if got["llama"].MinReplicas == nil || *got["llama"].MinReplicas != 0 {
		t.Errorf("first key should win for llama, got %+v", got["llama"])
	}

	llama, err := got.GetDeploymentConfig("llama")
	if err != nil {
		t.Fatalf("GetDeploymentConfig(llama) error = %v", err)
	}
	want := v1alpha1.DefaultAutoscalingConfig()
	want.MinReplicas = 0
	want.MaxReplicas = 20
	want.InitialReplicas = ptr.To(2)
	want.TargetOngoingRequestsPerReplica = 2
	want.UpscaleDelaySeconds = 10
	want.DownscaleSmoothingFactor = ptr.To(0.5)
	if diff := cmp.Diff(want, llama); diff != "" {
		t.Errorf("GetDeploymentConfig(llama) mismatch (-want +got):\n%s", diff)
	}

	// Deployments without an entry get the defaults.
	other, err := got.GetDeploymentConfig("other")
	if err != nil {
		t.Fatalf("GetDeploymentConfig(other) error = %v", err)
	}
	if other.MinReplicas != 1 || other.MaxReplicas != 20 {
		t.Errorf("GetDeploymentConfig(other) = %+v, want defaults entry applied", other)
	}
}

func TestParseDeploymentScalingConfigMapInvalidDefaults(t *testing.T) {
	got := ParseDeploymentScalingConfigMap(map[string]string{
		GlobalDefaultsKey: "minReplicas: 5\nmaxReplicas: 1",
		"svc":             "deployment: svc\nmaxReplicas: 3",
	})
	if _, ok := got[GlobalDefaultsKey]; ok {
		t.Fatal("invalid defaults entry should be skipped")
	}
	cfg, err := got.GetDeploymentConfig("svc")
	if err != nil {
		t.Fatalf("GetDeploymentConfig(svc) error = %v", err)
	}
	if cfg.MinReplicas != v1alpha1.DefaultMinReplicas || cfg.MaxReplicas != 3 {
		t.Errorf("GetDeploymentConfig(svc) = %+v", cfg)
	}
}

func TestParseDeploymentScalingConfigMapNil(t *testing.T) {
	got := ParseDeploymentScalingConfigMap(nil)
	if len(got) != 0 {
		t.Fatalf("expected empty data, got %v", got)
	}
	cfg, err := got.GetDeploymentConfig("svc")
	if err != nil {
		t.Fatalf("GetDeploymentConfig() error = %v", err)
	}
	if diff := cmp.Diff(v1alpha1.DefaultAutoscalingConfig(), cfg); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGetDeploymentConfigValidates(t *testing.T) {
	data := DeploymentScalingConfigData{
		"svc": {Deployment: "svc", MinReplicas: ptr.To(3)},
	}
	_, err := data.GetDeploymentConfig("svc")
	if !errors.Is(err, v1alpha1.ErrInvalidAutoscalingConfig) {
		t.Fatalf("GetDeploymentConfig() error = %v, want ErrInvalidAutoscalingConfig", err)
	}
}
