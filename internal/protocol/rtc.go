package protocol

// RTC actions carried on the signaling relay.
const (
	ActionOffer       = "offer"
	ActionAnswer      = "answer"
	ActionCandidate   = "candidate"
	ActionEnd         = "end"
	ActionJoinRequest = "join_request"
	ActionRaiseHand   = "raise_hand"
	ActionReaction    = "reaction"
)

// RTCSignal is a normalized signaling payload. ToID is zero for broadcast
// actions (join_request, raise_hand, reaction).
type RTCSignal struct {
	Action    string
	FromID    int64
	ToID      int64
	SDP       string
	Candidate string
	CallType  string
	Raised    bool
	Content   string
}

// ParseRTC extracts the signal from an rtc frame.
func ParseRTC(f Frame) RTCSignal {
	sig := RTCSignal{
		Action:    f.Action,
		FromID:    f.FromID,
		ToID:      f.ToID,
		SDP:       f.SDP,
		Candidate: f.Candidate,
		CallType:  f.CallType,
		Content:   f.Content,
	}
	if f.Raised != nil {
		sig.Raised = *f.Raised
	}
	return sig
}

// NewRTCFrame builds the outbound frame for a signal.
func NewRTCFrame(sig RTCSignal) Frame {
	f := Frame{
		Type:      TypeRTC,
		Action:    sig.Action,
		FromID:    sig.FromID,
		ToID:      sig.ToID,
		SDP:       sig.SDP,
		Candidate: sig.Candidate,
		CallType:  sig.CallType,
		Content:   sig.Content,
	}
	if sig.Action == ActionRaiseHand {
		raised := sig.Raised
		f.Raised = &raised
	}
	return f
}
