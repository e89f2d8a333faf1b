package actuator

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/llm-d/llm-d-serve-control/internal/interfaces"
	"github.com/llm-d/llm-d-serve-control/internal/logging"
)

type failingActuator struct{ calls int }

func (f *failingActuator) ApplyDecision(context.Context, interfaces.ScalingDecision) error {
	f.calls++
	return errors.New("boom")
}

var _ = Describe("DeploymentScaler", func() {
	var (
		ctx    context.Context
		c      client.Client
		scaler *DeploymentScaler
	)

	BeforeEach(func() {
		ctx = logging.NewTestLoggerIntoContext(context.Background())
		c = fake.NewClientBuilder().WithObjects(&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: "llama", Namespace: "serving"},
			Spec:       appsv1.DeploymentSpec{Replicas: ptr.To[int32](2)},
		}).Build()
		scaler = NewDeploymentScaler(c, "serving")
	})

	replicasOf := func(name string) int32 {
		deploy := &appsv1.Deployment{}
		Expect(c.Get(ctx, types.NamespacedName{Namespace: "serving", Name: name}, deploy)).To(Succeed())
		return *deploy.Spec.Replicas
	}

	It("patches spec.replicas to the target", func() {
		Expect(scaler.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "llama", CurrentReplicas: 2, TargetReplicas: 5})).To(Succeed())
		Expect(replicasOf("llama")).To(BeEquivalentTo(5))

		current, err := scaler.GetCurrentDeploymentReplicas(ctx, "llama")
		Expect(err).NotTo(HaveOccurred())
		Expect(current).To(BeEquivalentTo(5))
	})

	It("scales to zero", func() {
		Expect(scaler.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "llama", TargetReplicas: 0})).To(Succeed())
		Expect(replicasOf("llama")).To(BeEquivalentTo(0))
	})

	It("leaves a deployment already at the target untouched", func() {
		Expect(scaler.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "llama", TargetReplicas: 2})).To(Succeed())
		Expect(replicasOf("llama")).To(BeEquivalentTo(2))
	})

	It("reports missing deployments and invalid targets", func() {
		err := scaler.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "missing", TargetReplicas: 1})
		Expect(errors.Is(err, ErrDeploymentNotFound)).To(BeTrue())

		err = scaler.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "llama", TargetReplicas: -1})
		Expect(errors.Is(err, ErrInvalidReplicaCount)).To(BeTrue())
		Expect(replicasOf("llama")).To(BeEquivalentTo(2))
	})
})

var _ = Describe("Chain", func() {
	It("applies actuators in order and stops at the first error", func() {
		ctx := logging.NewTestLoggerIntoContext(context.Background())
		failing := &failingActuator{}
		second := &failingActuator{}
		chain := Chain{NewMetricsActuator(), failing, second}

		err := chain.ApplyDecision(ctx, interfaces.ScalingDecision{Deployment: "llama", TargetReplicas: 3})
		Expect(err).To(MatchError("boom"))
		Expect(failing.calls).To(Equal(1))
		Expect(second.calls).To(Equal(0))

		Expect(NewMetricsActuator().ApplyDecision(ctx, interfaces.ScalingDecision{TargetReplicas: -2})).
			To(MatchError(ErrInvalidReplicaCount))
	})
})
