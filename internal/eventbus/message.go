package eventbus

import (
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

// Message is a stream entry pointing at an event log row. The row is the
// source of truth; the message only carries enough to route and trace it.
type Message struct {
	ID             string
	EventID        int64
	Kind           domain.EventKind
	OrganizationID *int64
	Attempt        int
	TraceID        string
	// RetryGroup is set on requeued copies; only that group processes them.
	RetryGroup     string
	Raw            redis.XMessage
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	eventID, err := parseInt64(msg.Values, "event_id")
	if err != nil {
		return Message{}, err
	}
	kind, err := parseString(msg.Values, "kind")
	if err != nil {
		return Message{}, err
	}
	if kind == "" {
		return Message{}, fmt.Errorf("empty kind")
	}
	organizationID, err := parseOptionalInt64(msg.Values, "organization_id")
	if err != nil {
		return Message{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	retryGroup, err := parseOptionalString(msg.Values, "retry_group")
	if err != nil {
		return Message{}, err
	}
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:             msg.ID,
		EventID:        eventID,
		Kind:           domain.EventKind(kind),
		OrganizationID: organizationID,
		Attempt:        attempt,
		TraceID:        traceID,
		RetryGroup:     retryGroup,
		Raw:            msg,
	}, nil
}

func eventValues(e model.Event) map[string]any {
	values := map[string]any{
		"event_id": e.ID,
		"kind":     string(e.Kind),
		"attempt":  1,
	}
	if e.OrganizationID != nil {
		values["organization_id"] = *e.OrganizationID
	}
	if e.TraceID != nil && *e.TraceID != "" {
		values["trace_id"] = *e.TraceID
	}
	return values
}

func messageValues(msg Message, attempt int) map[string]any {
	values := map[string]any{
		"event_id": msg.EventID,
		"kind":     string(msg.Kind),
		"attempt":  attempt,
	}
	if msg.OrganizationID != nil {
		values["organization_id"] = *msg.OrganizationID
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt64(values map[string]any, key string) (*int64, error) {
	raw, ok := values[key]
	if !ok {
		return nil, nil
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
