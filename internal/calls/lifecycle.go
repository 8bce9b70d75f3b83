package calls

// Event names. Both machines share the vocabulary where it overlaps.
const (
	EventPlayMessage        = "play_message"
	EventPlayClosedGreeting = "play_closed_greeting"
	EventEnqueue            = "enqueue"
	EventConnect            = "connect"
	EventConnected          = "connected"
	EventAnswer             = "answer"
	EventRequeue            = "requeue"
	EventReject             = "reject"
	EventTerminate          = "terminate"
)

type conversationEdge struct {
	from []ConversationState
	to   ConversationState
}

var conversationTransitions = map[string]conversationEdge{
	EventPlayMessage:        {from: []ConversationState{ConversationCreated}, to: ConversationGreeted},
	EventPlayClosedGreeting: {from: []ConversationState{ConversationCreated}, to: ConversationClosedGreeted},
	EventEnqueue:            {from: []ConversationState{ConversationGreeted}, to: ConversationEnqueued},
	EventConnect:            {from: []ConversationState{ConversationEnqueued}, to: ConversationConnecting},
	EventAnswer:             {from: []ConversationState{ConversationConnecting}, to: ConversationConnected},
	EventRequeue:            {from: []ConversationState{ConversationConnecting}, to: ConversationEnqueued},
	EventReject:             {from: []ConversationState{ConversationCreated, ConversationGreeted}, to: ConversationRejected},
	EventTerminate: {
		from: []ConversationState{
			ConversationCreated,
			ConversationGreeted,
			ConversationClosedGreeted,
			ConversationEnqueued,
			ConversationConnecting,
			ConversationConnected,
		},
		to: ConversationTerminated,
	},
}

type legEdge struct {
	from []LegState
	to   LegState
}

var legTransitions = map[string]legEdge{
	EventConnect:   {from: []LegState{LegCreated}, to: LegConnecting},
	EventConnected: {from: []LegState{LegConnecting}, to: LegConnected},
	EventAnswer:    {from: []LegState{LegConnecting, LegConnected}, to: LegAnswered},
	EventReject:    {from: []LegState{LegCreated, LegConnecting}, to: LegRejected},
	EventTerminate: {from: []LegState{LegCreated, LegConnecting, LegConnected, LegAnswered}, to: LegTerminated},
}

// NextConversationState returns the state reached by firing event from s.
// ok is false when the event is unknown or not allowed from s.
func NextConversationState(s ConversationState, event string) (ConversationState, bool) {
	edge, found := conversationTransitions[event]
	if !found {
		return s, false
	}
	for _, from := range edge.from {
		if from == s {
			return edge.to, true
		}
	}
	return s, false
}

// NextLegState is NextConversationState for call legs.
func NextLegState(s LegState, event string) (LegState, bool) {
	edge, found := legTransitions[event]
	if !found {
		return s, false
	}
	for _, from := range edge.from {
		if from == s {
			return edge.to, true
		}
	}
	return s, false
}
