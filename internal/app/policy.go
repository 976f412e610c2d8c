package app

import "github.com/dkeye/voicechat/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick_member"
	case DropFrame:
		return "drop_frame"
	}
	return "no_action"
}

// FrameKind separates droppable media from state-carrying control events.
type FrameKind int

const (
	KindControl FrameKind = iota
	KindAudio
)

func (k FrameKind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "control"
}

type Policy interface {
	OnBackPressure(member core.MemberSession, kind FrameKind) BackpressureAction
}

// SimplePolicy drops audio for slow receivers and kicks a receiver once it has
// missed SlowLimit control events.
type SimplePolicy struct {
	SlowLimit int32
}

func (p SimplePolicy) OnBackPressure(member core.MemberSession, kind FrameKind) BackpressureAction {
	if kind == KindAudio {
		return DropFrame
	}
	if member.Meta().MarkSlow() >= p.SlowLimit {
		return KickMember
	}
	return MarkSlow
}
