package fl

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	readyTopic       = "client/ready"
	terminateTopic   = "client/terminate"
	initialTopicRoot = "server/initial_parameters/"
	globalTopicRoot  = "server/global_parameters/"
	updatedTopicRoot = "client/updated_parameters/"

	TerminateMarker = "TERMINATE"
)

type EventKind uint8

const (
	ReadySignal EventKind = iota + 1
	Contribution
	InitialParameters
	GlobalParameters
	TerminateSignal
)

func (k EventKind) String() string {
	switch k {
	case ReadySignal:
		return "ready"
	case Contribution:
		return "contribution"
	case InitialParameters:
		return "initial_parameters"
	case GlobalParameters:
		return "global_parameters"
	case TerminateSignal:
		return "terminate"
	default:
		return "unknown"
	}
}

// Event is a parsed inbound message. Payload is set for parameter-carrying
// kinds only.
type Event struct {
	Kind     EventKind
	ClientID ClientID
	Payload  []byte
}

// Topics builds and parses the round protocol topic namespace, optionally
// nested under a prefix so several runs can share one broker.
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return Topics{prefix: prefix}
}

func (t Topics) Ready() string {
	return t.prefix + readyTopic
}

func (t Topics) Terminate() string {
	return t.prefix + terminateTopic
}

func (t Topics) InitialParameters(id ClientID) string {
	return t.prefix + initialTopicRoot + id.String()
}

func (t Topics) GlobalParameters(id ClientID) string {
	return t.prefix + globalTopicRoot + id.String()
}

func (t Topics) UpdatedParameters(id ClientID) string {
	return t.prefix + updatedTopicRoot + id.String()
}

// UpdatedParametersFilter matches the contribution topic of every client.
func (t Topics) UpdatedParametersFilter() string {
	return t.prefix + updatedTopicRoot + "+"
}

// Parse turns a topic and payload into a typed event. ErrUnknownTopic marks a
// message outside the namespace, ErrMalformed one that is inside it but
// cannot be interpreted.
func (t Topics) Parse(topic string, payload []byte) (Event, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch {
	case rest == readyTopic:
		id, err := ParseClientID(string(bytes.TrimSpace(payload)))
		if err != nil {
			return Event{}, fmt.Errorf("%w: ready payload %q: %w", ErrMalformed, payload, err)
		}

		return Event{Kind: ReadySignal, ClientID: id}, nil
	case rest == terminateTopic:
		if string(bytes.TrimSpace(payload)) != TerminateMarker {
			return Event{}, fmt.Errorf("%w: terminate payload %q", ErrMalformed, payload)
		}

		return Event{Kind: TerminateSignal}, nil
	case strings.HasPrefix(rest, updatedTopicRoot):
		return parametersEvent(Contribution, strings.TrimPrefix(rest, updatedTopicRoot), payload)
	case strings.HasPrefix(rest, initialTopicRoot):
		return parametersEvent(InitialParameters, strings.TrimPrefix(rest, initialTopicRoot), payload)
	case strings.HasPrefix(rest, globalTopicRoot):
		return parametersEvent(GlobalParameters, strings.TrimPrefix(rest, globalTopicRoot), payload)
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
}

func parametersEvent(kind EventKind, rawID string, payload []byte) (Event, error) {
	id, err := ParseClientID(rawID)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s topic id %q: %w", ErrMalformed, kind, rawID, err)
	}
	if len(payload) == 0 {
		return Event{}, fmt.Errorf("%w: empty %s payload from client %d", ErrMalformed, kind, id)
	}

	return Event{Kind: kind, ClientID: id, Payload: payload}, nil
}

func ParseClientID(s string) (ClientID, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}

	return ClientID(v), nil
}

func (id ClientID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
