package autoscaler

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/api/meta"
	clocktesting "k8s.io/utils/clock/testing"
	"k8s.io/utils/ptr"

	"github.com/llm-d/llm-d-serve-control/api/v1alpha1"
	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

const period = 10 * time.Second

type scriptedSampler struct {
	mu       sync.Mutex
	snapshot interfaces.LoadSnapshot
	err      error
	calls    int
	onSample func(call int)
}

func (s *scriptedSampler) set(queued int, ongoing ...float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = interfaces.LoadSnapshot{QueuedAtRouter: queued}
	for i, v := range ongoing {
		s.snapshot.Replicas = append(s.snapshot.Replicas, interfaces.ReplicaLoad{Tag: string(rune('a' + i)), Ongoing: v})
	}
}

func (s *scriptedSampler) Sample(_ context.Context, _ string) (interfaces.LoadSnapshot, error) {
	s.mu.Lock()
	s.calls++
	call, hook := s.calls, s.onSample
	snapshot, err := s.snapshot, s.err
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return snapshot, err
}

func (s *scriptedSampler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingActuator struct {
	mu        sync.Mutex
	err       error
	decisions []interfaces.ScalingDecision
}

func (a *recordingActuator) ApplyDecision(_ context.Context, d interfaces.ScalingDecision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.decisions = append(a.decisions, d)
	return nil
}

func (a *recordingActuator) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *recordingActuator) recorded() []interfaces.ScalingDecision {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]interfaces.ScalingDecision(nil), a.decisions...)
}

var _ = Describe("Controller", func() {
	var (
		ctx       context.Context
		fakeClock *clocktesting.FakeClock
		sampler   *scriptedSampler
		actuator  *recordingActuator
	)

	newController := func(cfg v1alpha1.AutoscalingConfig, opts ...ControllerOption) *Controller {
		policy, err := NewPolicy(cfg, period)
		Expect(err).NotTo(HaveOccurred())
		opts = append([]ControllerOption{WithTickerClock(fakeClock)}, opts...)
		c, err := NewController("svc", policy, sampler, actuator, period, opts...)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	baseConfig := func() v1alpha1.AutoscalingConfig {
		cfg := v1alpha1.DefaultAutoscalingConfig()
		cfg.MinReplicas = 1
		cfg.MaxReplicas = 10
		cfg.UpscaleDelaySeconds = 20
		cfg.DownscaleDelaySeconds = 20
		return cfg
	}

	BeforeEach(func() {
		ctx = logging.NewTestLoggerIntoContext(context.Background())
		fakeClock = clocktesting.NewFakeClock(time.Now())
		sampler = &scriptedSampler{}
		actuator = &recordingActuator{}
	})

	It("rejects missing collaborators", func() {
		policy, err := NewPolicy(baseConfig(), period)
		Expect(err).NotTo(HaveOccurred())
		_, err = NewController("svc", policy, nil, actuator, period)
		Expect(err).To(HaveOccurred())
		_, err = NewController("svc", policy, sampler, actuator, 0)
		Expect(err).To(HaveOccurred())
	})

	It("brings the deployment up to the initial replica count", func() {
		cfg := baseConfig()
		cfg.InitialReplicas = ptr.To(3)
		c := newController(cfg)
		Expect(c.State()).To(Equal(v1alpha1.StateNotStarted))

		Expect(c.Tick(ctx)).To(Succeed())
		Expect(sampler.callCount()).To(Equal(0))
		Expect(actuator.recorded()).To(ConsistOf(interfaces.ScalingDecision{
			Deployment:      "svc",
			CurrentReplicas: 0,
			TargetReplicas:  3,
			Reason:          v1alpha1.ReasonInitialBounds,
			State:           v1alpha1.StateBringingUp,
		}))

		status := c.Status()
		Expect(status.State).To(Equal(v1alpha1.StateBringingUp))
		Expect(status.CurrentTarget).To(BeEquivalentTo(3))
		Expect(status.LastDecision.NumReplicasChanged).To(BeEquivalentTo(3))
		Expect(meta.IsStatusConditionTrue(status.Conditions, v1alpha1.TypeScalingActive)).To(BeTrue())
	})

	It("only scales up after the load persists for the upscale delay", func() {
		c := newController(baseConfig(), WithStartReplicas(2))
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(2))
		Expect(actuator.recorded()).To(BeEmpty(), "start replicas already within bounds")

		sampler.set(0, 2, 2)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(2))
		Expect(c.State()).To(Equal(v1alpha1.StateSteady))

		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(4))
		decisions := actuator.recorded()
		Expect(decisions).To(HaveLen(1))
		Expect(decisions[0].CurrentReplicas).To(Equal(2))
		Expect(decisions[0].TargetReplicas).To(Equal(4))
		Expect(decisions[0].Reason).To(Equal(v1alpha1.ReasonScaleUp))
		Expect(decisions[0].Direction()).To(Equal("up"))
	})

	It("scales to zero and back when requests queue", func() {
		cfg := baseConfig()
		cfg.MinReplicas = 0
		cfg.DownscaleDelaySeconds = 0
		c := newController(cfg, WithStartReplicas(1))
		Expect(c.Tick(ctx)).To(Succeed())

		sampler.set(0, 0)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(0))
		Expect(c.State()).To(Equal(v1alpha1.StateScaledToZero))

		sampler.set(0)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.State()).To(Equal(v1alpha1.StateScaledToZero))

		sampler.set(2)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(1))
		Expect(c.State()).To(Equal(v1alpha1.StateBringingUp))

		sampler.set(0, 1)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.State()).To(Equal(v1alpha1.StateSteady))

		reasons := []string{}
		for _, d := range actuator.recorded() {
			reasons = append(reasons, d.Reason)
		}
		Expect(reasons).To(Equal([]string{v1alpha1.ReasonScaleDown, v1alpha1.ReasonScaleFromZero}))
	})

	It("keeps the target and reports the condition when sampling fails", func() {
		c := newController(baseConfig(), WithStartReplicas(2))
		Expect(c.Tick(ctx)).To(Succeed())

		sampler.err = errors.New("prometheus unavailable")
		Expect(c.Tick(ctx)).To(MatchError(ContainSubstring("prometheus unavailable")))
		Expect(c.CurrentTarget()).To(Equal(2))
		cond := meta.FindStatusCondition(c.Status().Conditions, v1alpha1.TypeMetricsAvailable)
		Expect(cond).NotTo(BeNil())
		Expect(cond.Reason).To(Equal(v1alpha1.ReasonSamplerError))
	})

	It("retries a failed actuation on the next tick", func() {
		cfg := baseConfig()
		cfg.InitialReplicas = ptr.To(2)
		c := newController(cfg)

		actuator.setErr(errors.New("conflict"))
		Expect(c.Tick(ctx)).To(HaveOccurred())
		Expect(meta.IsStatusConditionFalse(c.Status().Conditions, v1alpha1.TypeScalingActive)).To(BeTrue())

		actuator.setErr(nil)
		sampler.set(0, 1, 1)
		Expect(c.Tick(ctx)).To(Succeed())
		decisions := actuator.recorded()
		Expect(decisions).To(HaveLen(1))
		Expect(decisions[0].TargetReplicas).To(Equal(2))
		Expect(decisions[0].Reason).To(Equal(v1alpha1.ReasonInitialBounds))
		Expect(meta.IsStatusConditionTrue(c.Status().Conditions, v1alpha1.TypeScalingActive)).To(BeTrue())
	})

	It("applies target capacity from the next tick", func() {
		cfg := baseConfig()
		cfg.DownscaleDelaySeconds = 0
		c := newController(cfg, WithStartReplicas(10))
		Expect(c.Tick(ctx)).To(Succeed())

		Expect(c.SetTargetCapacity(ptr.To(0.5), nil)).To(Succeed())
		sampler.set(0, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
		Expect(c.Tick(ctx)).To(Succeed())
		Expect(c.CurrentTarget()).To(Equal(5))
		Expect(c.SetTargetCapacity(ptr.To(2.0), nil)).To(HaveOccurred())
	})

	It("runs on the ticker until the context is cancelled", func() {
		c := newController(baseConfig(), WithStartReplicas(1))
		sampler.set(0, 1)
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- c.Start(runCtx) }()

		Eventually(c.State).Should(Equal(v1alpha1.StateBringingUp))
		fakeClock.Step(period)
		Eventually(sampler.callCount).Should(Equal(1))
		Eventually(c.State).Should(Equal(v1alpha1.StateSteady))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("drops a tick that comes due while an evaluation overruns", func() {
		c := newController(baseConfig(), WithStartReplicas(1))
		sampler.set(0, 1)
		sampler.onSample = func(call int) {
			if call == 1 {
				fakeClock.Step(period + period/2)
			}
		}
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() { _ = c.Start(runCtx) }()

		Eventually(c.State).Should(Equal(v1alpha1.StateBringingUp))
		fakeClock.Step(period)
		Eventually(c.SkippedTicks).Should(Equal(1))
		Consistently(sampler.callCount, 100*time.Millisecond).Should(Equal(1))
	})
})
