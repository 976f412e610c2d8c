package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voicechat/internal/domain"
)

type Decision int

const (
	Forward Decision = iota
	Suppressed
)

func (d Decision) String() string {
	if d == Suppressed {
		return "suppressed"
	}
	return "forward"
}

type AdmissionConfig struct {
	ActivityTimeout time.Duration `mapstructure:"activity_timeout"`
	MaxSpeakers     int           `mapstructure:"max_speakers"`
	// Round is the recency granularity; speakers active within the same round tie.
	Round time.Duration `mapstructure:"round"`
}

type speakerEntry struct {
	lastActive time.Time
	// since marks the start of the current talk spurt and breaks recency ties.
	since time.Time
}

// channelSpeakers holds the entries of one channel and the slots granted for the current round.
type channelSpeakers struct {
	entries  map[domain.UserID]*speakerEntry
	round    time.Time
	admitted map[domain.UserID]struct{}
}

// Admission bounds the number of concurrently forwarded speakers per voice channel.
// Slots are granted per round from the activity seen before the round started, so
// arrival order inside a round cannot displace a slot holder. Expiry is evaluated
// lazily on the next packet; no timers run.
type Admission struct {
	cfg AdmissionConfig
	now func() time.Time

	mu    sync.Mutex
	rooms map[domain.ChannelID]*channelSpeakers
}

type AdmissionOption func(*Admission)

func WithClock(now func() time.Time) AdmissionOption {
	return func(a *Admission) { a.now = now }
}

func NewAdmission(cfg AdmissionConfig, opts ...AdmissionOption) *Admission {
	a := &Admission{
		cfg:   cfg,
		now:   time.Now,
		rooms: make(map[domain.ChannelID]*channelSpeakers),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Admit records activity for user in channel and decides whether this packet is forwarded.
func (a *Admission) Admit(channel domain.ChannelID, user domain.UserID) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	room, ok := a.rooms[channel]
	if !ok {
		room = &channelSpeakers{
			entries:  make(map[domain.UserID]*speakerEntry),
			admitted: make(map[domain.UserID]struct{}),
		}
		a.rooms[channel] = room
	}

	for id, e := range room.entries {
		if a.expired(e, now) {
			delete(room.entries, id)
			delete(room.admitted, id)
		}
	}

	if r := a.round(now); !ok || !r.Equal(room.round) {
		room.round = r
		room.admitted = a.grant(room.entries)
	}

	e, ok := room.entries[user]
	if !ok {
		e = &speakerEntry{since: now}
		room.entries[user] = e
	}
	e.lastActive = now

	if a.cfg.MaxSpeakers <= 0 {
		return Forward
	}
	if _, ok := room.admitted[user]; ok {
		return Forward
	}
	if len(room.admitted) < a.cfg.MaxSpeakers {
		room.admitted[user] = struct{}{}
		return Forward
	}
	return Suppressed
}

// grant picks the slot holders for a new round from the activity recorded so far.
func (a *Admission) grant(entries map[domain.UserID]*speakerEntry) map[domain.UserID]struct{} {
	admitted := make(map[domain.UserID]struct{})
	if a.cfg.MaxSpeakers <= 0 {
		return admitted
	}
	for _, id := range a.ranked(entries) {
		if len(admitted) == a.cfg.MaxSpeakers {
			break
		}
		admitted[id] = struct{}{}
	}
	return admitted
}

func (a *Admission) ranked(entries map[domain.UserID]*speakerEntry) []domain.UserID {
	out := make([]domain.UserID, 0, len(entries))
	for id := range entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return a.outranks(out[i], entries[out[i]], out[j], entries[out[j]])
	})
	return out
}

func (a *Admission) expired(e *speakerEntry, now time.Time) bool {
	return a.cfg.ActivityTimeout > 0 && now.Sub(e.lastActive) > a.cfg.ActivityTimeout
}

func (a *Admission) round(t time.Time) time.Time {
	if a.cfg.Round <= 0 {
		return t
	}
	return t.Truncate(a.cfg.Round)
}

// outranks orders entries by round recency, then by who has held the floor longer, then by id.
func (a *Admission) outranks(id domain.UserID, e *speakerEntry, otherID domain.UserID, other *speakerEntry) bool {
	ra, rb := a.round(e.lastActive), a.round(other.lastActive)
	if !ra.Equal(rb) {
		return ra.After(rb)
	}
	if !e.since.Equal(other.since) {
		return e.since.Before(other.since)
	}
	return id < otherID
}

// Remove purges the user's entry and slot in channel.
func (a *Admission) Remove(channel domain.ChannelID, user domain.UserID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[channel]
	if !ok {
		return
	}
	delete(room.entries, user)
	delete(room.admitted, user)
	if len(room.entries) == 0 {
		delete(a.rooms, channel)
	}
}

// Speakers lists the non-expired entries of channel, highest priority first.
func (a *Admission) Speakers(channel domain.ChannelID) []domain.UserID {
	a.mu.Lock()
	defer a.mu.Unlock()
	room, ok := a.rooms[channel]
	if !ok {
		return []domain.UserID{}
	}
	now := a.now()
	fresh := make(map[domain.UserID]*speakerEntry, len(room.entries))
	for id, e := range room.entries {
		if !a.expired(e, now) {
			fresh[id] = e
		}
	}
	return a.ranked(fresh)
}
