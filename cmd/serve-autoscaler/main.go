/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/spf13/pflag"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
	"github.com/llm-d/llm-d-serve-control/internal/actuator"
	"github.com/llm-d/llm-d-serve-control/internal/autoscaler"
	"github.com/llm-d/llm-d-serve-control/internal/collector"
	"github.com/llm-d/llm-d-serve-control/internal/config"
	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
	"github.com/llm-d/llm-d-serve-control/internal/metrics"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	logging.InitSetupLogging()

	opts := config.NewOptions()
	opts.AddFlags(pflag.CommandLine)
	pflag.Parse()
	if err := opts.Complete(); err != nil {
		setupLog.Error(err, "Failed to load options")
		return err
	}
	if err := opts.Validate(); err != nil {
		setupLog.Error(err, "Invalid options")
		return err
	}
	logging.InitLogging(&opts.ZapOptions)

	if err := metrics.Register(ctrlmetrics.Registry); err != nil {
		setupLog.Error(err, "Failed to register metrics")
		return err
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: opts.MetricsBindAddress},
		HealthProbeBindAddress: opts.HealthProbeBindAddress,
		LeaderElection:         opts.LeaderElect,
		LeaderElectionID:       "serve-autoscaler.llm-d.ai",
		Cache: cache.Options{
			DefaultNamespaces: map[string]cache.Config{opts.Namespace: {}},
		},
	})
	if err != nil {
		setupLog.Error(err, "Failed to create manager")
		return err
	}
	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up ready check")
		return err
	}

	ctx := ctrl.SetupSignalHandler()

	scalingConfig, err := loadScalingConfig(ctx, mgr.GetAPIReader(), opts)
	if err != nil {
		setupLog.Error(err, "Failed to load deployment scaling config")
		return err
	}

	promClient, err := api.NewClient(api.Config{Address: opts.PrometheusAddress})
	if err != nil {
		setupLog.Error(err, "Failed to create Prometheus client", "address", opts.PrometheusAddress)
		return err
	}
	promAPI := promv1.NewAPI(promClient)

	var scaler *actuator.DeploymentScaler
	decisions := actuator.Chain{actuator.NewMetricsActuator()}
	if opts.DirectScaling {
		scaler = actuator.NewDeploymentScaler(mgr.GetClient(), opts.Namespace)
		decisions = append(decisions, scaler)
	}

	for _, name := range scalingConfig.Deployments() {
		cfg, err := scalingConfig.GetDeploymentConfig(name)
		if err != nil {
			setupLog.Error(err, "Skipping deployment with invalid config", "deployment", name)
			continue
		}
		sampler, err := collector.NewPrometheusSampler(promAPI, collector.PrometheusSamplerConfig{
			Namespace: opts.Namespace,
			LookBack:  lookBack(cfg, opts.LookBackPeriod),
		})
		if err != nil {
			setupLog.Error(err, "Failed to create sampler", "deployment", name)
			return err
		}
		if err := mgr.Add(deploymentRunnable(name, cfg, sampler, decisions, scaler, opts.ControlLoopPeriod)); err != nil {
			setupLog.Error(err, "Failed to add autoscaling controller", "deployment", name)
			return err
		}
		setupLog.Info("Registered autoscaling controller", "deployment", name,
			"minReplicas", cfg.MinReplicas, "maxReplicas", cfg.MaxReplicas)
	}

	setupLog.Info("Starting manager")
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "Manager exited with error")
		return err
	}
	return nil
}

// loadScalingConfig reads the ConfigMap directly from the API server since
// the manager cache is not running yet. A missing ConfigMap yields no
// deployments.
func loadScalingConfig(ctx context.Context, reader client.Reader, opts *config.Options) (config.DeploymentScalingConfigData, error) {
	cm := &corev1.ConfigMap{}
	key := types.NamespacedName{Namespace: opts.Namespace, Name: opts.ConfigMapName}
	if err := reader.Get(ctx, key, cm); err != nil {
		if apierrors.IsNotFound(err) {
			setupLog.Info("Deployment scaling ConfigMap not found", "configMap", key.String())
			return config.DeploymentScalingConfigData{}, nil
		}
		return nil, fmt.Errorf("failed to get ConfigMap %s: %w", key, err)
	}
	return config.ParseDeploymentScalingConfigMap(cm.Data), nil
}

// deploymentRunnable builds the controller once the manager has started, so
// the starting replica count can be read through the cached client.
func deploymentRunnable(name string, cfg v1alpha1.AutoscalingConfig, sampler interfaces.LoadSampler,
	decisions interfaces.ScaleActuator, scaler *actuator.DeploymentScaler, period time.Duration) manager.RunnableFunc {
	return func(ctx context.Context) error {
		logger := ctrl.Log.WithName("autoscaler").WithValues("deployment", name)
		ctx = ctrl.LoggerInto(ctx, logger)

		policy, err := autoscaler.NewPolicy(cfg, period)
		if err != nil {
			return err
		}

		var ctlOpts []autoscaler.ControllerOption
		if scaler != nil {
			current, err := scaler.GetCurrentDeploymentReplicas(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to read replicas of %s: %w", name, err)
			}
			ctlOpts = append(ctlOpts, autoscaler.WithStartReplicas(int(current)))
		}

		ctl, err := autoscaler.NewController(name, policy, sampler, decisions, period, ctlOpts...)
		if err != nil {
			return err
		}
		return ctl.Start(ctx)
	}
}

func lookBack(cfg v1alpha1.AutoscalingConfig, fallback time.Duration) time.Duration {
	if cfg.LookBackPeriodSeconds <= 0 {
		return fallback
	}
	return time.Duration(cfg.LookBackPeriodSeconds * float64(time.Second))
}
