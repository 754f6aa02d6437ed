// Package memstore keeps every collaborator in process. It backs
// STORE_MODE=memory and the tests of the packages that sit on top of the
// core interfaces.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

var _ core.MetadataStore = (*MetadataStore)(nil)

type MetadataStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	datasets      map[string]models.Dataset
	files         map[string]models.File
	jobs          map[string]models.Job
	audit         []models.AuditEvent
	conversations map[string]models.Conversation
	messages      map[string][]models.Message
}

func NewMetadataStore() *MetadataStore {
	return &MetadataStore{
		now:           time.Now,
		datasets:      map[string]models.Dataset{},
		files:         map[string]models.File{},
		jobs:          map[string]models.Job{},
		conversations: map[string]models.Conversation{},
		messages:      map[string][]models.Message{},
	}
}

func (s *MetadataStore) CreateDataset(_ context.Context, ds *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[ds.ID]; ok {
		return apperr.Conflict("create dataset", "dataset "+ds.ID+" already exists")
	}
	if ds.Status == "" {
		ds.Status = models.DatasetPending
	}
	ds.CreatedAt = s.now()
	ds.UpdatedAt = ds.CreatedAt
	s.datasets[ds.ID] = *ds
	return nil
}

func (s *MetadataStore) GetDataset(_ context.Context, id string) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok {
		return nil, nil
	}
	return &ds, nil
}

func (s *MetadataStore) SetDatasetStatus(_ context.Context, id string, status models.DatasetStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.datasets[id]
	if !ok {
		return apperr.NotFound("set dataset status", "dataset "+id+" not found")
	}
	ds.Status = status
	ds.UpdatedAt = s.now()
	s.datasets[id] = ds
	return nil
}

func (s *MetadataStore) CreateFile(_ context.Context, f *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.ID]; ok {
		return apperr.Conflict("create file", "file "+f.ID+" already exists")
	}
	if f.Status == "" {
		f.Status = models.StatusPending
	}
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt
	s.files[f.ID] = *f
	return nil
}

func (s *MetadataStore) GetFile(_ context.Context, id string) (*models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (s *MetadataStore) ListFiles(_ context.Context, datasetID string) ([]models.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.File
	for _, f := range s.files {
		if f.DatasetID == datasetID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MetadataStore) updateFile(id, op string, fn func(f *models.File)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return apperr.NotFound(op, "file "+id+" not found")
	}
	fn(&f)
	f.UpdatedAt = s.now()
	s.files[id] = f
	return nil
}

func (s *MetadataStore) SetFileStatus(_ context.Context, id string, status models.Status) error {
	return s.updateFile(id, "set file status", func(f *models.File) { f.Status = status })
}

func (s *MetadataStore) SetFileSimhash(_ context.Context, id, simhash string) error {
	return s.updateFile(id, "set file simhash", func(f *models.File) { f.Simhash = simhash })
}

func (s *MetadataStore) ClaimFile(_ context.Context, id, expectedJobID, newJobID, contentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return false, apperr.NotFound("claim file", "file "+id+" not found")
	}
	if f.LatestJobID != expectedJobID || f.Status == models.StatusRunning {
		return false, nil
	}
	f.LatestJobID = newJobID
	f.ContentHash = contentHash
	f.Status = models.StatusPending
	f.UpdatedAt = s.now()
	s.files[id] = f
	return true, nil
}

func (s *MetadataStore) LinkFile(_ context.Context, id, jobID, contentHash string) error {
	return s.updateFile(id, "link file", func(f *models.File) {
		f.LatestJobID = jobID
		f.ContentHash = contentHash
		f.Status = models.StatusComplete
	})
}

func (s *MetadataStore) ListFingerprints(_ context.Context, tenantID, datasetID string) ([]models.Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Fingerprint
	for _, f := range s.files {
		if f.TenantID == tenantID && f.DatasetID == datasetID && f.Simhash != "" {
			out = append(out, models.Fingerprint{FileID: f.ID, Simhash: f.Simhash})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}

func (s *MetadataStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return apperr.Conflict("create job", "job "+job.ID+" already exists")
	}
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	job.CreatedAt = s.now()
	job.UpdatedAt = job.CreatedAt
	s.jobs[job.ID] = *job
	return nil
}

func (s *MetadataStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (s *MetadataStore) UpdateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.jobs[job.ID]
	if !ok {
		return apperr.NotFound("update job", "job "+job.ID+" not found")
	}
	if cur.Status.Terminal() {
		return apperr.ErrJobTerminal
	}
	job.CreatedAt = cur.CreatedAt
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MetadataStore) HasCompleteJob(_ context.Context, datasetID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.DatasetID == datasetID && j.Status == models.StatusComplete {
			return true, nil
		}
	}
	return false, nil
}

func (s *MetadataStore) FindCompleteJobByHash(_ context.Context, tenantID, datasetID, contentHash string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID || j.ContentHash != contentHash || j.Status != models.StatusComplete {
			continue
		}
		if f, ok := s.files[j.FileID]; !ok || f.LatestJobID != j.ID {
			continue
		}
		if best == nil || better(j, *best, datasetID) {
			j := j
			best = &j
		}
	}
	return best, nil
}

// better orders hash matches: same dataset first, then most recent.
func better(a, b models.Job, datasetID string) bool {
	if (a.DatasetID == datasetID) != (b.DatasetID == datasetID) {
		return a.DatasetID == datasetID
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func (s *MetadataStore) AppendAudit(_ context.Context, ev *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	s.audit = append(s.audit, *ev)
	return nil
}

// Audit returns the audit events of a file in append order.
func (s *MetadataStore) Audit(fileID string) []models.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEvent
	for _, ev := range s.audit {
		if fileID == "" || ev.FileID == fileID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *MetadataStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return apperr.Conflict("create conversation", "conversation "+c.ID+" already exists")
	}
	c.CreatedAt = s.now()
	s.conversations[c.ID] = *c
	return nil
}

func (s *MetadataStore) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MetadataStore) AppendMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[m.ConversationID]; !ok {
		return apperr.NotFound("append message", "conversation "+m.ConversationID+" not found")
	}
	m.Seq = len(s.messages[m.ConversationID]) + 1
	m.CreatedAt = s.now()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], *m)
	return nil
}

func (s *MetadataStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Message(nil), s.messages[conversationID]...), nil
}
