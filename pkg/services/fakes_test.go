package services

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/incident-engine/pkg/database"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/repositories"
)

// passthroughTx runs transactions one at a time, standing in for the
// advisory locks, and records lock keys.
type passthroughTx struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	locks []string
}

func (t *passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.txMu.Lock()
	defer t.txMu.Unlock()
	return fn(ctx)
}

func (t *passthroughTx) XactLock(_ context.Context, namespace, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.locks = append(t.locks, namespace+":"+key)
	return nil
}

var _ database.Transactor = (*passthroughTx)(nil)

// nopScopes hands back the caller's context.
type nopScopes struct{ err error }

func (s nopScopes) WithScope(ctx context.Context) (context.Context, func(), error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return ctx, func() {}, nil
}

var _ database.ScopeProvider = nopScopes{}

var errStorageDown = errors.New("connection refused")

// memRawEventRepo is an in-memory RawEventRepository.
type memRawEventRepo struct {
	mu      sync.Mutex
	events  []*models.RawEvent
	byHash  map[string]*models.RawEvent
	failAll bool
}

func newMemRawEventRepo() *memRawEventRepo {
	return &memRawEventRepo{byHash: make(map[string]*models.RawEvent)}
}

var _ repositories.RawEventRepository = (*memRawEventRepo)(nil)

func (r *memRawEventRepo) InsertIfAbsent(_ context.Context, ev *models.RawEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return false, errStorageDown
	}
	if _, ok := r.byHash[ev.ContentHash]; ok {
		return false, nil
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.IngestedAt = time.Now().UTC()
	stored := *ev
	r.events = append(r.events, &stored)
	r.byHash[ev.ContentHash] = &stored
	return true, nil
}

func (r *memRawEventRepo) GetByHash(_ context.Context, hash string) (*models.RawEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.byHash[hash]; ok {
		cp := *ev
		return &cp, nil
	}
	return nil, nil
}

func (r *memRawEventRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RawEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == id {
			cp := *ev
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRawEventRepo) Finalize(_ context.Context, id uuid.UUID, status models.RawEventStatus, incidentID *uuid.UUID, errMsg *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID != id {
			continue
		}
		if ev.Status != models.RawEventStatusRaw {
			return false, nil
		}
		now := time.Now().UTC()
		ev.Status = status
		ev.IncidentID = incidentID
		ev.ErrorMessage = errMsg
		ev.NormalizedAt = &now
		return true, nil
	}
	return false, nil
}

func (r *memRawEventRepo) List(_ context.Context, status models.RawEventStatus, limit int) ([]*models.RawEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RawEvent
	for _, ev := range r.events {
		if status == "" || ev.Status == status {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRawEventRepo) ListByIncident(_ context.Context, incidentID uuid.UUID) ([]*models.RawEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.RawEvent
	for _, ev := range r.events {
		if ev.IncidentID != nil && *ev.IncidentID == incidentID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memRawEventRepo) all() []*models.RawEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// memIncidentRepo is an in-memory IncidentRepository.
type memIncidentRepo struct {
	mu        sync.Mutex
	incidents []*models.Incident
}

var _ repositories.IncidentRepository = (*memIncidentRepo)(nil)

func (r *memIncidentRepo) Create(_ context.Context, inc *models.Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inc.ID == uuid.Nil {
		inc.ID = uuid.New()
	}
	inc.CreatedAt = time.Now().UTC()
	r.incidents = append(r.incidents, inc)
	return nil
}

func (r *memIncidentRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.ID == id {
			return inc, nil
		}
	}
	return nil, nil
}

func (r *memIncidentRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Incident, error) {
	var out []*models.Incident
	for _, id := range ids {
		inc, _ := r.GetByID(ctx, id)
		if inc != nil {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (r *memIncidentRepo) FindByTitleWithin(_ context.Context, title string, from, to time.Time) (*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Incident
	for _, inc := range r.incidents {
		if !strings.EqualFold(inc.Title, title) || inc.Datetime.Before(from) || inc.Datetime.After(to) {
			continue
		}
		if best == nil || inc.Datetime.Before(best.Datetime) {
			best = inc
		}
	}
	return best, nil
}

func (r *memIncidentRepo) AddSource(_ context.Context, id uuid.UUID, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.ID == id && !slices.Contains(inc.Sources, source) {
			inc.Sources = append(inc.Sources, source)
		}
	}
	return nil
}

func (r *memIncidentRepo) List(_ context.Context, limit, offset int) ([]*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.incidents)
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memIncidentRepo) ListPendingExtraction(_ context.Context, limit int) ([]*models.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Incident
	for _, inc := range r.incidents {
		if inc.EntitiesExtractedAt == nil {
			out = append(out, inc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memIncidentRepo) MarkEntitiesExtracted(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inc := range r.incidents {
		if inc.ID == id {
			inc.EntitiesExtractedAt = &at
		}
	}
	return nil
}

func (r *memIncidentRepo) all() []*models.Incident {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.incidents)
}

// memEntityRepo is an in-memory EntityRepository with the same uniqueness
// rules as the schema.
type memEntityRepo struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*models.Entity
	order    []uuid.UUID
	aliases  map[string]*models.EntityAlias // by alias_normalized
	links    []*models.IncidentEntityLink
	failAll  bool
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{
		entities: make(map[uuid.UUID]*models.Entity),
		aliases:  make(map[string]*models.EntityAlias),
	}
}

var _ repositories.EntityRepository = (*memEntityRepo)(nil)

func (r *memEntityRepo) Create(_ context.Context, e *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errStorageDown
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	r.entities[e.ID] = &cp
	r.order = append(r.order, e.ID)
	return nil
}

func (r *memEntityRepo) incidentCount(id uuid.UUID) int {
	seen := map[uuid.UUID]bool{}
	for _, l := range r.links {
		if l.EntityID == id {
			seen[l.IncidentID] = true
		}
	}
	return len(seen)
}

func (r *memEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	cp.IncidentCount = r.incidentCount(id)
	return &cp, nil
}

func (r *memEntityRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	return r.GetByID(ctx, id)
}

func (r *memEntityRepo) List(ctx context.Context, limit, offset int) ([]*models.Entity, error) {
	r.mu.Lock()
	ids := slices.Clone(r.order)
	r.mu.Unlock()
	var out []*models.Entity
	for _, id := range ids {
		if e, _ := r.GetByID(ctx, id); e != nil {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memEntityRepo) Touch(_ context.Context, id uuid.UUID, seen time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[id]; ok {
		if seen.Before(e.FirstSeen) {
			e.FirstSeen = seen
		}
		if seen.After(e.LastSeen) {
			e.LastSeen = seen
		}
	}
	return nil
}

func (r *memEntityRepo) Absorb(_ context.Context, targetID uuid.UUID, src *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entities[targetID]
	if !ok {
		return nil
	}
	if src.FirstSeen.Before(t.FirstSeen) {
		t.FirstSeen = src.FirstSeen
	}
	if src.LastSeen.After(t.LastSeen) {
		t.LastSeen = src.LastSeen
	}
	t.Confidence = max(t.Confidence, src.Confidence)
	if t.Description == nil {
		t.Description = src.Description
	}
	if t.CountryAffiliation == nil {
		t.CountryAffiliation = src.CountryAffiliation
	}
	if t.Region == nil {
		t.Region = src.Region
	}
	return nil
}

func (r *memEntityRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; !ok {
		return false, nil
	}
	delete(r.entities, id)
	r.order = slices.DeleteFunc(r.order, func(x uuid.UUID) bool { return x == id })
	for k, a := range r.aliases {
		if a.EntityID == id {
			delete(r.aliases, k)
		}
	}
	r.links = slices.DeleteFunc(r.links, func(l *models.IncidentEntityLink) bool { return l.EntityID == id })
	return true, nil
}

func (r *memEntityRepo) FindByAliases(_ context.Context, normalized []string) (*uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range normalized {
		if a, ok := r.aliases[n]; ok {
			id := a.EntityID
			return &id, nil
		}
	}
	return nil, nil
}

func (r *memEntityRepo) AddAlias(_ context.Context, alias *models.EntityAlias) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.aliases[alias.AliasNormalized]; ok {
		return false, nil
	}
	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	alias.CreatedAt = time.Now().UTC()
	cp := *alias
	r.aliases[alias.AliasNormalized] = &cp
	return true, nil
}

func (r *memEntityRepo) ListAliases(_ context.Context, entityID uuid.UUID) ([]*models.EntityAlias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EntityAlias
	for _, a := range r.aliases {
		if a.EntityID == entityID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AliasNormalized < out[j].AliasNormalized })
	return out, nil
}

func (r *memEntityRepo) ListAliasesFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(ids))
	for _, id := range ids {
		aliases, _ := r.ListAliases(ctx, id)
		for _, a := range aliases {
			out[id] = append(out[id], a.Alias)
		}
	}
	return out, nil
}

func (r *memEntityRepo) MoveAliases(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.aliases {
		if a.EntityID == sourceID {
			a.EntityID = targetID
			n++
		}
	}
	return n, nil
}

func (r *memEntityRepo) UpsertLink(_ context.Context, link *models.IncidentEntityLink) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return false, errStorageDown
	}
	for _, l := range r.links {
		if l.IncidentID == link.IncidentID && l.EntityID == link.EntityID && l.Role == link.Role {
			l.Confidence = max(l.Confidence, link.Confidence)
			return false, nil
		}
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	cp := *link
	r.links = append(r.links, &cp)
	return true, nil
}

func (r *memEntityRepo) ListLinks(_ context.Context, entityID uuid.UUID) ([]*models.IncidentEntityLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.IncidentEntityLink
	for _, l := range r.links {
		if l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memEntityRepo) ListIncidentIDsFor(_ context.Context, ids []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID][]uuid.UUID, len(ids))
	for _, id := range ids {
		for _, l := range r.links {
			if l.EntityID == id && !slices.Contains(out[id], l.IncidentID) {
				out[id] = append(out[id], l.IncidentID)
			}
		}
	}
	return out, nil
}

func (r *memEntityRepo) MoveLinks(_ context.Context, sourceID, targetID uuid.UUID) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	collides := func(s *models.IncidentEntityLink) bool {
		for _, t := range r.links {
			if t.EntityID == targetID && t.IncidentID == s.IncidentID && t.Role == s.Role {
				return true
			}
		}
		return false
	}
	dropped := 0
	r.links = slices.DeleteFunc(r.links, func(l *models.IncidentEntityLink) bool {
		if l.EntityID == sourceID && collides(l) {
			dropped++
			return true
		}
		return false
	})
	moved := 0
	for _, l := range r.links {
		if l.EntityID == sourceID {
			l.EntityID = targetID
			moved++
		}
	}
	return moved, dropped, nil
}

func (r *memEntityRepo) entityCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// memMergeRepo is an in-memory EntityMergeRepository.
type memMergeRepo struct {
	mu     sync.Mutex
	merges []*models.EntityMerge
}

var _ repositories.EntityMergeRepository = (*memMergeRepo)(nil)

func (r *memMergeRepo) Begin(_ context.Context, m *models.EntityMerge) (*models.EntityMerge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.merges {
		if existing.SourceID == m.SourceID && existing.TargetID == m.TargetID {
			return existing, nil
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Status = models.MergeStatusMerging
	m.CreatedAt = time.Now().UTC()
	cp := *m
	r.merges = append(r.merges, &cp)
	return &cp, nil
}

func (r *memMergeRepo) Get(_ context.Context, sourceID, targetID uuid.UUID) (*models.EntityMerge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.merges {
		if m.SourceID == sourceID && m.TargetID == targetID {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMergeRepo) Complete(_ context.Context, id uuid.UUID, aliasesMoved, linksMoved int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.merges {
		if m.ID == id {
			now := time.Now().UTC()
			m.Status = models.MergeStatusCompleted
			m.AliasesMoved = aliasesMoved
			m.LinksMoved = linksMoved
			m.CompletedAt = &now
		}
	}
	return nil
}

func (r *memMergeRepo) List(_ context.Context, limit int) ([]*models.EntityMerge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.merges)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memRunRepo is an in-memory IngestionRunRepository.
type memRunRepo struct {
	mu   sync.Mutex
	runs []*models.IngestionRun
}

var _ repositories.IngestionRunRepository = (*memRunRepo)(nil)

func (r *memRunRepo) Create(_ context.Context, run *models.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	cp := *run
	r.runs = append(r.runs, &cp)
	return nil
}

func (r *memRunRepo) Finish(_ context.Context, run *models.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.runs {
		if existing.ID == run.ID {
			cp := *run
			r.runs[i] = &cp
		}
	}
	return nil
}

func (r *memRunRepo) List(_ context.Context, source string, limit int) ([]*models.IngestionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.IngestionRun
	for _, run := range r.runs {
		if source == "" || run.Source == source {
			out = append(out, run)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRunRepo) bySource(source string) []*models.IngestionRun {
	out, _ := r.List(context.Background(), source, 0)
	return out
}
