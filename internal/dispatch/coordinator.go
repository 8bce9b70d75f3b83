package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callqueue/internal/agents"
	"callqueue/internal/calls"
	"callqueue/internal/metrics"
	"callqueue/internal/queue"
	"callqueue/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrQueueEmpty is returned by DequeueForAgent when no conversation is waiting.
var ErrQueueEmpty = errors.New("dispatch: queue empty")

// Intake route names, used for metrics and logs.
const (
	RouteGreeting       = "greeting"
	RouteClosedGreeting = "closed_greeting"
	RouteRejection      = "reject"
)

// Auditor is satisfied by *audit.Service.
type Auditor interface {
	LogAssigned(ctx context.Context, agentID, conversationID, callSID string) error
	LogRedirectRace(ctx context.Context, agentID, conversationID, callSID string, attempt int) error
	LogStatusReverted(ctx context.Context, agentID string, cause error) error
	LogStaleEntry(ctx context.Context, agentID, conversationID string) error
}

// Assignment is what an agent receives for a dequeued conversation.
type Assignment struct {
	ID             string `json:"id"`
	CustomerNumber string `json:"customer_number"`
	PopURL         string `json:"pop_url,omitempty"`
}

// Options configures the optional collaborators of a Coordinator. Nil
// fields disable the matching feature; Metrics defaults to a no-op recorder.
type Options struct {
	PopURLs PopURLFinder
	Audit   Auditor
	Metrics metrics.Recorder

	// MaxRedirectRetries caps how many claimed conversations may be lost to
	// customers hanging up during one dequeue. Zero means no cap.
	MaxRedirectRetries int
}

// Coordinator accepts inbound calls into the waiting queue and hands queued
// conversations to agents.
type Coordinator struct {
	gateway *calls.Gateway
	queue   queue.WaitingQueue
	agents  agents.Locker

	popURLs    PopURLFinder
	audit      Auditor
	metrics    metrics.Recorder
	maxRetries int

	tracer trace.Tracer
}

func NewCoordinator(gateway *calls.Gateway, q queue.WaitingQueue, locker agents.Locker, opts Options) *Coordinator {
	m := opts.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	return &Coordinator{
		gateway:    gateway,
		queue:      q,
		agents:     locker,
		popURLs:    opts.PopURLs,
		audit:      opts.Audit,
		metrics:    m,
		maxRetries: opts.MaxRedirectRetries,
		tracer:     otel.Tracer("callqueue/dispatch"),
	}
}

// RouteToGreeting accepts an inbound call that will hear the greeting and
// then wait in the queue.
func (c *Coordinator) RouteToGreeting(ctx context.Context, in calls.Inbound) (calls.Conversation, error) {
	return c.intake(ctx, RouteGreeting, in, func(ctx context.Context, s *calls.Session, conv *calls.Conversation) error {
		if err := s.PlayMessage(ctx, conv); err != nil {
			return err
		}
		leg, err := s.CreateCustomerLeg(ctx, conv, in.From, in.CallSID)
		if err != nil {
			return err
		}
		if err := s.Connect(ctx, &leg); err != nil {
			return err
		}
		return s.Answer(ctx, &leg)
	})
}

// RouteToClosedGreeting accepts an inbound call outside business hours: it
// hears the closed message and the call ends.
func (c *Coordinator) RouteToClosedGreeting(ctx context.Context, in calls.Inbound) (calls.Conversation, error) {
	return c.intake(ctx, RouteClosedGreeting, in, func(ctx context.Context, s *calls.Session, conv *calls.Conversation) error {
		if err := s.PlayClosedGreeting(ctx, conv); err != nil {
			return err
		}
		leg, err := s.CreateCustomerLeg(ctx, conv, in.From, in.CallSID)
		if err != nil {
			return err
		}
		return s.Terminate(ctx, &leg)
	})
}

// RouteToRejection records an inbound call that is refused outright.
func (c *Coordinator) RouteToRejection(ctx context.Context, in calls.Inbound) (calls.Conversation, error) {
	return c.intake(ctx, RouteRejection, in, func(ctx context.Context, s *calls.Session, conv *calls.Conversation) error {
		leg, err := s.CreateCustomerLeg(ctx, conv, in.From, in.CallSID)
		if err != nil {
			return err
		}
		return s.Reject(ctx, &leg)
	})
}

type intakeFunc func(ctx context.Context, s *calls.Session, conv *calls.Conversation) error

// intake runs one route as a single unit of work and returns the conversation
// as committed, cascaded leg events included.
func (c *Coordinator) intake(ctx context.Context, route string, in calls.Inbound, fn intakeFunc) (calls.Conversation, error) {
	ctx, span := c.tracer.Start(ctx, "dispatch.intake", trace.WithAttributes(
		attribute.String("callqueue.route", route),
		attribute.String("callqueue.call_sid", in.CallSID),
	))
	defer span.End()

	var out calls.Conversation
	err := c.gateway.WithTx(ctx, func(ctx context.Context, s *calls.Session) error {
		conv, err := s.CreateInboundConversation(ctx, in.To)
		if err != nil {
			return err
		}
		if err := fn(ctx, s, &conv); err != nil {
			return err
		}
		out, err = s.Conversation(ctx, conv.ID)
		return err
	})
	c.metrics.ObserveIntake(route, err == nil)
	if err != nil {
		recordError(span, err)
		return calls.Conversation{}, fmt.Errorf("%s intake: %w", route, err)
	}

	logger.From(ctx).Info("inbound call accepted",
		"route", route,
		"conversation_id", out.ID,
		"call_sid", in.CallSID,
		"state", out.State,
	)
	return out, nil
}

// Enqueue places a greeted conversation in the waiting queue.
//
// The hold loop calls it repeatedly. For a conversation that is already
// enqueued the queue entry is pushed again, which the queue ignores when the
// entry exists and restores when it was lost. A conversation that dispatch
// has claimed (connecting or connected) is returned unchanged so the caller
// keeps holding until the provider redirect lands.
func (c *Coordinator) Enqueue(ctx context.Context, conversationID string) (calls.Conversation, error) {
	var out calls.Conversation
	err := c.gateway.WithTx(ctx, func(ctx context.Context, s *calls.Session) error {
		conv, err := s.Conversation(ctx, conversationID)
		if err != nil {
			return err
		}
		out = conv
		switch conv.State {
		case calls.ConversationEnqueued, calls.ConversationConnecting, calls.ConversationConnected:
			return nil
		}
		if err := s.Enqueue(ctx, &conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return calls.Conversation{}, err
	}
	if out.State != calls.ConversationEnqueued {
		logger.From(ctx).Debug("conversation claimed, holding", "conversation_id", out.ID, "state", out.State)
		return out, nil
	}

	// Pushed only after commit: a dequeue that pops the id must find the
	// conversation enqueued. A crash before the push is repaired by the next
	// hold-loop call.
	pushed, err := c.queue.Push(ctx, out.ID)
	if err != nil {
		return calls.Conversation{}, fmt.Errorf("push: %w", err)
	}
	if pushed {
		logger.From(ctx).Info("conversation enqueued", "conversation_id", out.ID)
	}
	return out, nil
}

// QueueDepth reports the advisory number of waiting entries.
func (c *Coordinator) QueueDepth(ctx context.Context) (int64, error) {
	return c.queue.Count(ctx)
}

// DequeueForAgent assigns the oldest waiting conversation to agentID.
//
// The agent is held exclusively for the whole operation. Conversations whose
// customer hung up between claim and redirect are cleaned up and the next one
// is tried. Any failure leaves the agent in the status it had before.
func (c *Coordinator) DequeueForAgent(ctx context.Context, agentID string) (Assignment, error) {
	ctx, span := c.tracer.Start(ctx, "dispatch.DequeueForAgent", trace.WithAttributes(
		attribute.String("callqueue.agent_id", agentID),
	))
	defer span.End()
	ctx = logger.WithAttrs(ctx, "agent_id", agentID)
	start := time.Now()

	var out Assignment
	err := c.agents.WithExclusiveAgent(ctx, agentID, func(ctx context.Context, a agents.Agent) error {
		res, err := c.assign(ctx, a)
		out = res
		return err
	})

	outcome := dequeueOutcome(err)
	c.metrics.ObserveDequeue(outcome, time.Since(start))
	span.SetAttributes(attribute.String("callqueue.outcome", outcome))

	if err != nil {
		switch outcome {
		case metrics.OutcomeQueueEmpty, metrics.OutcomeAgentOnACall, metrics.OutcomeAgentNotFound:
		default:
			recordError(span, err)
			logger.From(ctx).Error("dequeue failed", "err", err)
		}
		if outcome != metrics.OutcomeAgentOnACall && outcome != metrics.OutcomeAgentNotFound {
			c.auditBestEffort(ctx, func(ctx context.Context, a Auditor) error {
				return a.LogStatusReverted(ctx, agentID, err)
			})
		}
		return Assignment{}, err
	}

	span.SetAttributes(attribute.String("callqueue.conversation_id", out.ID))
	return out, nil
}

func (c *Coordinator) assign(ctx context.Context, a agents.Agent) (Assignment, error) {
	for races := 0; ; races++ {
		if err := ctx.Err(); err != nil {
			return Assignment{}, err
		}
		if c.maxRetries > 0 && races > c.maxRetries {
			return Assignment{}, fmt.Errorf("%w: %d claimed conversations hung up before redirect", ErrQueueEmpty, races)
		}

		res, err := c.attempt(ctx, a, races+1)
		if errors.Is(err, calls.ErrNotInProgress) {
			continue
		}
		return res, err
	}
}

// claim is one conversation taken off the queue and bound to an agent leg.
type claim struct {
	conv     calls.Conversation
	customer calls.CallLeg
	agentLeg calls.CallLeg
}

func (c *Coordinator) attempt(ctx context.Context, a agents.Agent, n int) (out Assignment, err error) {
	cl, err := c.claimOldest(ctx, a)
	if err != nil {
		return Assignment{}, err
	}
	ctx = logger.WithAttrs(ctx, "conversation_id", cl.conv.ID)

	defer func() {
		if err != nil {
			c.release(ctx, a, cl, n, err)
		}
	}()

	if err = c.gateway.RedirectCustomerToAgent(ctx, cl.conv.ID, a.CSRID); err != nil {
		return Assignment{}, err
	}

	out = Assignment{
		ID:             cl.conv.ID,
		CustomerNumber: cl.customer.Number,
		PopURL:         c.findPopURL(ctx, cl.customer.Number),
	}
	logger.From(ctx).Info("conversation assigned", "call_sid", cl.customer.SID, "attempt", n)
	c.auditBestEffort(ctx, func(ctx context.Context, au Auditor) error {
		return au.LogAssigned(ctx, a.CSRID, cl.conv.ID, cl.customer.SID)
	})
	return out, nil
}

// claimOldest pops until it finds a conversation still in the enqueued state,
// row-locks it and binds a new agent leg to it, all in one transaction.
func (c *Coordinator) claimOldest(ctx context.Context, a agents.Agent) (claim, error) {
	var out claim
	var current string
	err := c.gateway.WithTx(ctx, func(ctx context.Context, s *calls.Session) error {
		for {
			id, ok, err := c.queue.Pop(ctx)
			if err != nil {
				return fmt.Errorf("pop: %w", err)
			}
			if !ok {
				return ErrQueueEmpty
			}
			current = id

			conv, ok, err := s.ClaimEnqueued(ctx, id)
			if err != nil {
				return err
			}
			if !ok {
				current = ""
				c.metrics.IncStaleQueueEntry()
				logger.From(ctx).Debug("skipping stale queue entry", "conversation_id", id)
				c.auditBestEffort(ctx, func(ctx context.Context, au Auditor) error {
					return au.LogStaleEntry(ctx, a.CSRID, id)
				})
				continue
			}

			if err := s.ConnectConversation(ctx, &conv); err != nil {
				return err
			}
			customer, err := s.CustomerLeg(ctx, conv.ID)
			if err != nil {
				return err
			}
			leg, err := s.CreateAgentLeg(ctx, &conv, a.CSRID, a.PhoneNumber)
			if err != nil {
				return err
			}
			if err := s.Connect(ctx, &leg); err != nil {
				return err
			}
			out = claim{conv: conv, customer: customer, agentLeg: leg}
			return nil
		}
	})
	if err != nil {
		if current != "" && !errors.Is(err, ErrQueueEmpty) {
			c.requeue(ctx, current)
		}
		return claim{}, err
	}
	return out, nil
}

// release undoes a claim after the redirect failed. A customer that is no
// longer in progress has its leg terminated; any other failure puts the
// conversation back at the head of the queue.
func (c *Coordinator) release(ctx context.Context, a agents.Agent, cl claim, n int, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.From(ctx)

	if errors.Is(cause, calls.ErrNotInProgress) {
		err := c.gateway.WithTx(ctx, func(ctx context.Context, s *calls.Session) error {
			if err := s.DestroyLeg(ctx, cl.agentLeg); err != nil {
				return err
			}
			customer, err := s.Leg(ctx, cl.customer.ID)
			if err != nil {
				return err
			}
			if customer.State.Terminal() {
				return nil
			}
			return s.Terminate(ctx, &customer)
		})
		if err != nil {
			log.Error("redirect race cleanup failed", "err", err)
		}
		c.metrics.IncRedirectRace()
		log.Warn("customer call no longer in progress, retrying", "call_sid", cl.customer.SID, "attempt", n)
		c.auditBestEffort(ctx, func(ctx context.Context, au Auditor) error {
			return au.LogRedirectRace(ctx, a.CSRID, cl.conv.ID, cl.customer.SID, n)
		})
		return
	}

	err := c.gateway.WithTx(ctx, func(ctx context.Context, s *calls.Session) error {
		if err := s.DestroyLeg(ctx, cl.agentLeg); err != nil {
			return err
		}
		conv, err := s.Conversation(ctx, cl.conv.ID)
		if err != nil {
			return err
		}
		if conv.State != calls.ConversationConnecting {
			return nil
		}
		return s.RequeueConversation(ctx, &conv)
	})
	if err != nil {
		log.Error("release claimed conversation failed", "err", err)
		return
	}
	c.requeue(ctx, cl.conv.ID)
}

func (c *Coordinator) requeue(ctx context.Context, id string) {
	if _, err := c.queue.Requeue(context.WithoutCancel(ctx), id); err != nil {
		logger.From(ctx).Error("requeue failed", "conversation_id", id, "err", err)
	}
}

func (c *Coordinator) findPopURL(ctx context.Context, customerNumber string) string {
	if c.popURLs == nil {
		return ""
	}
	u, ok, err := c.popURLs.Find(ctx, calls.SanitizeNumber(customerNumber))
	if err != nil {
		// The call is already bridged; the pop-up is optional.
		logger.From(ctx).Warn("pop url lookup failed", "err", err)
		return ""
	}
	if !ok {
		return ""
	}
	return u
}

func (c *Coordinator) auditBestEffort(ctx context.Context, fn func(ctx context.Context, a Auditor) error) {
	if c.audit == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), c.audit); err != nil {
		logger.From(ctx).Warn("audit append failed", "err", err)
	}
}

func dequeueOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAssigned
	case errors.Is(err, ErrQueueEmpty):
		return metrics.OutcomeQueueEmpty
	case errors.Is(err, agents.ErrAgentOnACall):
		return metrics.OutcomeAgentOnACall
	case errors.Is(err, agents.ErrAgentNotFound):
		return metrics.OutcomeAgentNotFound
	default:
		return metrics.OutcomeError
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
