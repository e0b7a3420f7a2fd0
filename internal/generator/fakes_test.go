package generator

import (
	"context"
	"errors"
	"sort"
	"sync"

	appErrors "github.com/unclebandit/followup-engine/internal/errors"
	"github.com/unclebandit/followup-engine/internal/model"
)

type fakeSequences struct {
	mu        sync.Mutex
	sequences map[int64]*model.Sequence
	saved     int
}

func newFakeSequences(seqs ...*model.Sequence) *fakeSequences {
	f := &fakeSequences{sequences: map[int64]*model.Sequence{}}
	for _, s := range seqs {
		f.sequences[s.ID] = s
	}
	return f
}

func (f *fakeSequences) Create(_ context.Context, s *model.Sequence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.sequences) + 1)
	f.sequences[s.ID] = s
	return nil
}

func (f *fakeSequences) GetByID(_ context.Context, id int64) (*model.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sequences[id]
	if !ok {
		return nil, appErrors.NotFound("sequence", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSequences) ListBySender(context.Context, int64, bool) ([]*model.Sequence, error) {
	return nil, errors.New("not used")
}

func (f *fakeSequences) SaveContext(_ context.Context, id int64, gc model.GenerationContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sequences[id]
	if !ok {
		return appErrors.NotFound("sequence", id)
	}
	s.Context = &gc
	s.Segments = gc.Segments
	s.DeadlineHours = gc.DeadlineHours
	f.saved++
	return nil
}

func (f *fakeSequences) UpdateTotal(_ context.Context, id int64, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sequences[id].TotalMessages = total
	return nil
}

func (f *fakeSequences) Archive(context.Context, int64) error { return nil }

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*model.MessageTemplate
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{rows: map[int64]*model.MessageTemplate{}}
}

func (f *fakeMessages) Upsert(_ context.Context, m *model.MessageTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.SequenceID == m.SequenceID && row.Position == m.Position {
			m.ID = row.ID
			cp := *m
			f.rows[m.ID] = &cp
			return nil
		}
	}
	f.nextID++
	m.ID = f.nextID
	cp := *m
	f.rows[m.ID] = &cp
	return nil
}

func (f *fakeMessages) GetByID(_ context.Context, id int64) (*model.MessageTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[id]
	if !ok {
		return nil, appErrors.NotFound("message", id)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMessages) ListBySequence(_ context.Context, sequenceID int64) ([]*model.MessageTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*model.MessageTemplate{}
	for _, m := range f.rows {
		if m.SequenceID == sequenceID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (f *fakeMessages) UpdateContent(_ context.Context, m *model.MessageTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[m.ID]
	if !ok {
		return appErrors.NotFound("message", m.ID)
	}
	row.Subject, row.Body, row.CTA = m.Subject, m.Body, m.CTA
	row.TemplateType, row.Segment = m.TemplateType, m.Segment
	return nil
}

func (f *fakeMessages) Compact(ctx context.Context, sequenceID int64, keep []int64) error {
	keepSet := map[int64]bool{}
	for _, id := range keep {
		keepSet[id] = true
	}
	list, _ := f.ListBySequence(ctx, sequenceID)
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := 0
	for _, m := range list {
		if !keepSet[m.ID] {
			delete(f.rows, m.ID)
			continue
		}
		pos++
		f.rows[m.ID].Position = pos
	}
	return nil
}

// scriptedContent fails the slots whose positions are listed in failAt.
type scriptedContent struct {
	mu     sync.Mutex
	failAt map[int]bool
	calls  []SlotRequest
	after  func(call int)
}

func (s *scriptedContent) GenerateMessage(ctx context.Context, req SlotRequest) (Content, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	n := len(s.calls)
	s.mu.Unlock()
	if s.after != nil {
		defer s.after(n)
	}
	if s.failAt[req.Slot.Position] {
		return Content{}, errors.New("model overloaded")
	}
	return TemplateContent{}.GenerateMessage(ctx, req)
}
