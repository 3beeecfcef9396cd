package webhook_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/webhook"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, events...)
}

func (p *recordingPublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventKind
	for _, e := range p.published {
		out = append(out, e.Kind)
	}
	return out
}

type receivedRequest struct {
	header http.Header
	body   []byte
}

var _ = Describe("Dispatcher", func() {
	const secret = "whsec_test"

	var (
		ctx        context.Context
		stores     *memStores
		publisher  *recordingPublisher
		dispatcher *webhook.Dispatcher
		server     *httptest.Server
		status     atomic.Int32
		failures   atomic.Int32
		received   chan receivedRequest
		sub        *model.WebhookSubscription
		orgID      int64
	)

	seedEvent := func(kind domain.EventKind) *model.Event {
		e := &model.Event{
			ID:             id.New(),
			Kind:           kind,
			OrganizationID: &orgID,
			SubjectIDs:     []string{"42"},
			Payload:        json.RawMessage(`{"role_id":"42"}`),
		}
		Expect(stores.Events().Append(ctx, e)).To(Succeed())
		return e
	}

	enqueue := func(e *model.Event) *model.WebhookDelivery {
		d := &model.WebhookDelivery{
			ID:             id.New(),
			DeliveryUUID:   uuid.New(),
			SubscriptionID: sub.ID,
			EventID:        e.ID,
			Status:         model.DeliveryStatusPending,
			NextAttemptAt:  time.Now().Add(-time.Second),
		}
		created, err := stores.Deliveries().Enqueue(ctx, d)
		Expect(err).NotTo(HaveOccurred())
		Expect(created).To(BeTrue())
		Expect(stores.Events().MarkFannedOut(ctx, e.ID)).To(Succeed())
		return d
	}

	drainUntil := func(deliveryID int64, want model.DeliveryStatus) {
		Eventually(func() model.DeliveryStatus {
			_, err := dispatcher.DispatchOnce(ctx)
			Expect(err).NotTo(HaveOccurred())
			return stores.delivery(deliveryID).Status
		}).WithTimeout(5 * time.Second).WithPolling(5 * time.Millisecond).Should(Equal(want))
	}

	BeforeEach(func() {
		ctx = context.Background()
		stores = newMemStores()
		publisher = &recordingPublisher{}
		received = make(chan receivedRequest, 32)
		status.Store(http.StatusOK)
		failures.Store(0)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			received <- receivedRequest{header: r.Header.Clone(), body: body}
			if failures.Add(-1) >= 0 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(int(status.Load()))
			_, _ = w.Write([]byte("receiver says hi"))
		}))
		DeferCleanup(server.Close)

		orgID = id.New()
		sub = &model.WebhookSubscription{
			ID:             id.New(),
			OrganizationID: &orgID,
			URL:            server.URL,
			Secret:         secret,
			EventKinds:     []string{domain.AllEvents},
			IsActive:       true,
		}
		Expect(stores.WebhookSubscriptions().Create(ctx, sub)).To(Succeed())

		dispatcher = webhook.NewDispatcher(stores, stores, publisher, webhook.Config{
			MaxAttempts:           5,
			DeactivationThreshold: 5,
			BackoffBase:           time.Millisecond,
			BackoffMax:            4 * time.Millisecond,
			Timeout:               2 * time.Second,
			Workers:               4,
			RatePerSecond:         1000,
		})
	})

	It("delivers a signed envelope and records one attempt", func() {
		e := seedEvent(domain.EventRolePermissionsChanged)
		job := enqueue(e)

		drainUntil(job.ID, model.DeliveryStatusDelivered)

		var req receivedRequest
		Eventually(received).Should(Receive(&req))
		Expect(webhook.Verify(secret, req.body, req.header.Get(webhook.HeaderSignature))).To(BeTrue())
		Expect(req.header.Get(webhook.HeaderEvent)).To(Equal("role.permissions_changed"))
		Expect(req.header.Get(webhook.HeaderDelivery)).To(Equal(job.DeliveryUUID.String()))
		Expect(req.header.Get(webhook.HeaderTimestamp)).NotTo(BeEmpty())

		var env webhook.Envelope
		Expect(json.Unmarshal(req.body, &env)).To(Succeed())
		Expect(env.Event).To(Equal(domain.EventRolePermissionsChanged))
		Expect(*env.OrganizationID).To(Equal(orgID))
		Expect(string(env.Data)).To(MatchJSON(`{"role_id":"42"}`))

		attempts := stores.attemptsFor(sub.ID)
		Expect(attempts).To(HaveLen(1))
		Expect(attempts[0].Success).To(BeTrue())
		Expect(*attempts[0].ResponseStatus).To(Equal(http.StatusOK))
		Expect(*attempts[0].ResponseBody).To(Equal("receiver says hi"))
		Expect(attempts[0].RequestHeaders).NotTo(HaveKey("secret"))
	})

	It("makes exactly MaxAttempts attempts against a failing receiver and deactivates the subscription", func() {
		status.Store(http.StatusInternalServerError)
		job := enqueue(seedEvent(domain.EventMembershipCreated))

		drainUntil(job.ID, model.DeliveryStatusExhausted)

		// Nothing left to claim once the job is terminal.
		Consistently(func() int {
			n, _ := dispatcher.DispatchOnce(ctx)
			return n
		}).Within(50 * time.Millisecond).Should(BeZero())

		attempts := stores.attemptsFor(sub.ID)
		Expect(attempts).To(HaveLen(5))
		for i, a := range attempts {
			Expect(a.AttemptNumber).To(Equal(i + 1))
			Expect(a.Success).To(BeFalse())
			Expect(*a.ResponseStatus).To(Equal(http.StatusInternalServerError))
		}

		final := stores.delivery(job.ID)
		Expect(final.Attempts).To(Equal(5))
		Expect(*final.LastError).To(ContainSubstring("500"))

		s := stores.subscription(sub.ID)
		Expect(s.IsActive).To(BeFalse())
		Expect(s.FailureCount).To(Equal(5))

		deactivations := stores.eventsOfKind(domain.EventWebhookSubscriptionDeactivated)
		Expect(deactivations).To(HaveLen(1))
		Expect(publisher.kinds()).To(ConsistOf(domain.EventWebhookSubscriptionDeactivated))
	})

	It("retries until the receiver recovers and resets the failure count", func() {
		failures.Store(2)
		job := enqueue(seedEvent(domain.EventUserLinked))

		drainUntil(job.ID, model.DeliveryStatusDelivered)

		Expect(stores.attemptsFor(sub.ID)).To(HaveLen(3))
		Expect(stores.delivery(job.ID).Attempts).To(Equal(3))
		Expect(stores.subscription(sub.ID).FailureCount).To(BeZero())
		Expect(stores.subscription(sub.ID).IsActive).To(BeTrue())
		Expect(publisher.kinds()).To(BeEmpty())
	})

	It("delivers jobs of one subscription in event order", func() {
		first := enqueue(seedEvent(domain.EventRoleCreated))
		second := enqueue(seedEvent(domain.EventRolePermissionsChanged))

		n, err := dispatcher.DispatchOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(stores.delivery(first.ID).Status).To(Equal(model.DeliveryStatusDelivered))
		Expect(stores.delivery(second.ID).Status).To(Equal(model.DeliveryStatusPending))

		drainUntil(second.ID, model.DeliveryStatusDelivered)
	})

	It("holds a job back until every older matching event is fanned out", func() {
		fanout := webhook.NewFanout(stores.Events(), stores.WebhookSubscriptions(), stores.Deliveries())
		message := func(e *model.Event) eventbus.Message {
			return eventbus.Message{ID: "1-0", EventID: e.ID, Kind: e.Kind, OrganizationID: e.OrganizationID, Attempt: 1}
		}
		created := seedEvent(domain.EventRoleCreated)
		changed := seedEvent(domain.EventRolePermissionsChanged)

		// The later event reaches the fan-out first, e.g. the earlier one was requeued.
		Expect(fanout.Process(ctx, message(changed))).To(Succeed())
		n, err := dispatcher.DispatchOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(received).To(BeEmpty())

		Expect(fanout.Process(ctx, message(created))).To(Succeed())
		jobs, err := stores.Deliveries().ListBySubscription(ctx, sub.ID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(jobs).To(HaveLen(2))
		drainUntil(jobs[1].ID, model.DeliveryStatusDelivered)

		var order []string
		for range 2 {
			var req receivedRequest
			Eventually(received).Should(Receive(&req))
			order = append(order, req.header.Get(webhook.HeaderEvent))
		}
		Expect(order).To(Equal([]string{"role.created", "role.permissions_changed"}))
	})

	It("ignores unfanned events the subscription would not receive", func() {
		Expect(stores.WebhookSubscriptions().Create(ctx, &model.WebhookSubscription{
			ID: sub.ID, OrganizationID: &orgID, URL: server.URL, Secret: secret,
			EventKinds: []string{string(domain.EventUserLinked)}, IsActive: true,
		})).To(Succeed())
		seedEvent(domain.EventRoleCreated)
		job := enqueue(seedEvent(domain.EventUserLinked))

		n, err := dispatcher.DispatchOnce(ctx)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(stores.delivery(job.ID).Status).To(Equal(model.DeliveryStatusDelivered))
	})

	It("records transport errors as failed attempts", func() {
		sub.URL = "http://127.0.0.1:1"
		Expect(stores.WebhookSubscriptions().Create(ctx, sub)).To(Succeed())
		job := enqueue(seedEvent(domain.EventUserCreated))

		_, err := dispatcher.DispatchOnce(ctx)
		Expect(err).NotTo(HaveOccurred())

		attempts := stores.attemptsFor(sub.ID)
		Expect(attempts).To(HaveLen(1))
		Expect(attempts[0].ResponseStatus).To(BeNil())
		Expect(attempts[0].ErrorMessage).NotTo(BeNil())
		Expect(stores.delivery(job.ID).Status).To(Equal(model.DeliveryStatusPending))
		Expect(stores.delivery(job.ID).Attempts).To(Equal(1))
	})
})

var _ = Describe("Config.Backoff", func() {
	exact := webhook.Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second}
	jittered := webhook.Config{BackoffBase: time.Second, BackoffMax: 10 * time.Second, BackoffJitter: 0.1}

	It("doubles per attempt", func() {
		Expect(exact.Backoff(1)).To(Equal(time.Second))
		Expect(exact.Backoff(2)).To(Equal(2 * time.Second))
		Expect(exact.Backoff(3)).To(Equal(4 * time.Second))
	})

	It("caps at the maximum", func() {
		Expect(exact.Backoff(5)).To(Equal(10 * time.Second))
		Expect(exact.Backoff(10)).To(Equal(10 * time.Second))
	})

	It("randomizes within the jitter factor", func() {
		for i := 0; i < 20; i++ {
			Expect(jittered.Backoff(3)).To(BeNumerically("~", 4*time.Second, 400*time.Millisecond+time.Nanosecond))
			Expect(jittered.Backoff(10)).To(BeNumerically("~", 10*time.Second, time.Second+time.Nanosecond))
		}
	})
})
