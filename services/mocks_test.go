package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

var t0 = time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

// inlineExecutor runs posted functions immediately on the caller.
type inlineExecutor struct{}

func (inlineExecutor) Post(fn func()) { fn() }

// fakeScheduler is a manual clock; callbacks fire only inside Advance.
type fakeScheduler struct {
	now   time.Time
	seq   int
	tasks []*fakeTask
}

type fakeTask struct {
	due       time.Time
	every     time.Duration
	fn        func()
	seq       int
	cancelled bool
}

func (t *fakeTask) Cancel() { t.cancelled = true }

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: t0}
}

func (s *fakeScheduler) Now() time.Time { return s.now }

func (s *fakeScheduler) add(d, every time.Duration, fn func()) Task {
	s.seq++
	t := &fakeTask{due: s.now.Add(d), every: every, fn: fn, seq: s.seq}
	s.tasks = append(s.tasks, t)
	return t
}

func (s *fakeScheduler) After(d time.Duration, fn func()) Task {
	return s.add(d, 0, fn)
}

func (s *fakeScheduler) Every(d time.Duration, fn func()) Task {
	return s.add(d, d, fn)
}

// Advance moves the clock forward, firing due callbacks in time order.
func (s *fakeScheduler) Advance(d time.Duration) {
	end := s.now.Add(d)
	for {
		var next *fakeTask
		for _, t := range s.tasks {
			if t.cancelled || t.due.After(end) {
				continue
			}
			if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			break
		}
		s.now = next.due
		if next.every > 0 {
			next.due = next.due.Add(next.every)
		} else {
			next.cancelled = true
		}
		next.fn()
	}
	s.now = end

	live := s.tasks[:0]
	for _, t := range s.tasks {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	s.tasks = live
}

func (s *fakeScheduler) pending() int {
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

type sent struct {
	conn string
	msg  Message
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sent
}

func (p *fakePublisher) Send(connectionID string, msg Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{connectionID, msg})
}

func (p *fakePublisher) to(conn string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, s := range p.sent {
		if s.conn == conn {
			out = append(out, s.msg)
		}
	}
	return out
}

func (p *fakePublisher) ofType(conn, typ string) []Message {
	var out []Message
	for _, m := range p.to(conn) {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePublisher) last(conn, typ string) (Message, bool) {
	msgs := p.ofType(conn, typ)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetRandomTracks(ctx context.Context, q catalog.Query) ([]models.Track, error) {
	args := m.Called(ctx, q)
	tracks, _ := args.Get(0).([]models.Track)
	return tracks, args.Error(1)
}

func testTracks() []models.Track {
	return []models.Track{
		{ID: "1", Title: "Andalouse", Artist: "Kendji Girac", AllArtists: []string{"Kendji Girac"}, PreviewURL: "https://cdn.test/1.mp3"},
		{ID: "2", Title: "Papaoutai", Artist: "Stromae", AllArtists: []string{"Stromae"}, PreviewURL: "https://cdn.test/2.mp3"},
		{ID: "3", Title: "Djadja", Artist: "Aya Nakamura", AllArtists: []string{"Aya Nakamura"}, PreviewURL: "https://cdn.test/3.mp3"},
	}
}

// sequentialCodes hands out room codes from a fixed list.
func sequentialCodes(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		c := codes[i%len(codes)]
		i++
		return c, nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
