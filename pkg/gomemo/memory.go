package gomemo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dan-solli/gomemo/pkg/cache"
	"github.com/dan-solli/gomemo/pkg/embeddings"
	"github.com/dan-solli/gomemo/pkg/extraction"
	"github.com/dan-solli/gomemo/pkg/llm"
	"github.com/dan-solli/gomemo/pkg/runner"
	"github.com/dan-solli/gomemo/pkg/search"
	"github.com/dan-solli/gomemo/pkg/store"
)

const scopeRequiredMsg = "at least one of user_id, agent_id or run_id is required"

// Add ingests chat messages for a scope. With inference enabled (the
// default) the messages are distilled into facts and reconciled against
// existing memories; with inference disabled each non-system message is
// stored verbatim. When a graph store is wired, relation extraction runs
// concurrently with the vector leg.
//
// A provider that fails to extract or reconcile degrades the call to zero
// events instead of failing it. Embedding and store failures are returned.
func (m *Memory) Add(ctx context.Context, messages []llm.Message, scope Scope, opts AddOptions) (result *AddResult, err error) {
	start := time.Now()
	ot := newOpTrace("add")
	ids := map[string]interface{}{}
	defer func() {
		m.observe(ctx, "add", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, ids)
	}()

	if scope.IsZero() {
		err = &ValidationError{Msg: scopeRequiredMsg}
		return nil, err
	}
	if len(messages) == 0 {
		return &AddResult{Results: []MemoryEvent{}}, nil
	}

	var (
		events    []MemoryEvent
		relations []store.Relation
	)

	tasks := []runner.Task{func(ctx context.Context) error {
		applied, aerr := m.addMemories(ctx, ot, messages, scope, opts)
		if aerr != nil {
			return aerr
		}
		events = applied
		return nil
	}}
	if m.graph != nil {
		tasks = append(tasks, m.graphTask(ot, &relations, func(gctx context.Context) ([]store.Relation, error) {
			return m.graph.Add(gctx, extraction.SerializeMessages(messages), store.Filters{Scope: scope})
		}))
	}

	if err = m.runner.Run(ctx, tasks...); err != nil {
		return nil, err
	}

	ids["resultCount"] = len(events)
	ids["relationCount"] = len(relations)
	return &AddResult{Results: events, Relations: relations}, nil
}

// addMemories runs the vector leg of an Add.
func (m *Memory) addMemories(ctx context.Context, ot *opTrace, messages []llm.Message, scope Scope, opts AddOptions) ([]MemoryEvent, error) {
	if !opts.inferEnabled() {
		return m.addVerbatim(ctx, ot, messages, scope, opts)
	}
	return m.addInferred(ctx, ot, messages, scope, opts)
}

// addInferred extracts facts, reconciles them against nearby memories and
// applies the resulting actions.
func (m *Memory) addInferred(ctx context.Context, ot *opTrace, messages []llm.Message, scope Scope, opts AddOptions) ([]MemoryEvent, error) {
	input := messages
	if opts.Contextual {
		span := ot.startSpan("context")
		history, cerr := m.cache.Get(ctx, scope, defaultContextLimit)
		span.finish(cerr, map[string]int64{"contextMessages": int64(len(history))})
		if cerr != nil {
			// A cold or broken context source must not block the add.
			m.logger.WithError(cerr).Warn("Contextual history unavailable, adding without prior turns")
			m.metrics.RecordError(ctx, "add", ClassifyError(cerr))
		} else {
			input = cache.MergeContext(history, messages)
		}
	}

	extractor := m.extractor
	if opts.FactPrompt != "" {
		custom := *m.extractor
		custom.Prompt = opts.FactPrompt
		extractor = &custom
	}
	span := ot.startSpan("extract")
	facts, err := extractor.Extract(ctx, input, extraction.FactOptions{Includes: opts.Includes, Excludes: opts.Excludes})
	span.finish(err, map[string]int64{"factCount": int64(len(facts))})
	if err != nil {
		// An unreachable provider means no facts this turn, not a failed add.
		m.logger.WithError(err).Warn("Fact extraction failed, nothing added this turn")
		m.metrics.RecordError(ctx, "add", ClassifyError(err))
		return []MemoryEvent{}, nil
	}
	if len(facts) == 0 {
		m.logger.Debug("No facts extracted from messages")
		return []MemoryEvent{}, nil
	}

	// Embed each fact once and pool the nearby memories. The embeddings are
	// kept for the apply step so an ADD never re-embeds its fact.
	factEmb := make(map[string][]float32, len(facts))
	refs := extraction.NewRefMap()
	var candidates []extraction.Candidate
	seen := make(map[string]bool)

	span = ot.startSpan("embed")
	for _, fact := range facts {
		embedding, eerr := m.embedder.Embed(ctx, fact, embeddings.ActionAdd)
		if eerr != nil {
			span.finish(eerr, nil)
			return nil, &UpstreamCallError{Upstream: "embeddings", Err: eerr}
		}
		factEmb[fact] = embedding

		hits, serr := m.vector.Search(ctx, embedding, neighborLimit, store.Filters{Scope: scope})
		if serr != nil {
			span.finish(serr, nil)
			return nil, &UpstreamCallError{Upstream: "vector_store", Err: serr}
		}
		for _, hit := range hits {
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			candidates = append(candidates, extraction.Candidate{Ref: refs.Ref(hit.ID), Text: hit.Text})
		}
	}
	span.finish(nil, map[string]int64{"factCount": int64(len(facts)), "candidateCount": int64(len(candidates))})

	reconciler := m.reconciler
	if opts.ReconcilePrompt != "" {
		custom := *m.reconciler
		custom.Prompt = opts.ReconcilePrompt
		reconciler = &custom
	}
	span = ot.startSpan("reconcile")
	actions, err := reconciler.Reconcile(ctx, candidates, facts)
	span.finish(err, map[string]int64{"actionCount": int64(len(actions))})
	if err != nil {
		m.logger.WithError(err).Warn("Reconciliation failed, nothing added this turn")
		m.metrics.RecordError(ctx, "add", ClassifyError(err))
		return []MemoryEvent{}, nil
	}

	var provenance []llm.Message
	if opts.Contextual {
		provenance = messages
	}
	return m.applyActions(ctx, ot, actions, refs, factEmb, scope, buildMetadata(opts, provenance))
}

// applyActions executes reconciliation decisions against the vector store
// and history log. Actions referencing ids outside the candidate set are
// skipped; the remaining actions still apply.
func (m *Memory) applyActions(ctx context.Context, ot *opTrace, actions []extraction.PendingAction, refs *extraction.RefMap, factEmb map[string][]float32, scope Scope, metadata map[string]any) (events []MemoryEvent, err error) {
	span := ot.startSpan("apply")
	defer func() {
		span.finish(err, map[string]int64{"eventCount": int64(len(events))})
	}()

	events = make([]MemoryEvent, 0, len(actions))
	for _, action := range actions {
		switch action.Kind {
		case extraction.ActionAdd:
			embedding, ok := factEmb[action.Text]
			if !ok {
				var eerr error
				embedding, eerr = m.embedder.Embed(ctx, action.Text, embeddings.ActionAdd)
				if eerr != nil {
					err = &UpstreamCallError{Upstream: "embeddings", Err: eerr}
					return events, err
				}
			}
			now := time.Now().UTC()
			record := store.MemoryRecord{
				ID:        uuid.NewString(),
				Text:      action.Text,
				Hash:      store.ComputeTextHash(action.Text),
				Scope:     scope,
				Metadata:  metadata,
				CreatedAt: now,
			}
			if ierr := m.vector.Insert(ctx, record.ID, embedding, record); ierr != nil {
				err = &UpstreamCallError{Upstream: "vector_store", Err: ierr}
				return events, err
			}
			if herr := m.appendHistory(ctx, store.HistoryEntry{
				MemoryID:  record.ID,
				NewMemory: record.Text,
				Event:     store.EventAdd,
				CreatedAt: now,
			}); herr != nil {
				err = herr
				return events, err
			}
			events = append(events, MemoryEvent{ID: record.ID, Text: record.Text, Event: store.EventAdd})

		case extraction.ActionUpdate:
			id, ok := refs.Resolve(action.Ref)
			if !ok {
				m.logger.WithField("ref", action.Ref).Warn("Skipping UPDATE with an id outside the candidate set")
				continue
			}
			existing, gerr := m.vector.Get(ctx, id)
			if gerr != nil {
				if errors.Is(gerr, store.ErrNotFound) {
					m.logger.WithField("memoryId", id).Warn("Skipping UPDATE of a memory that no longer exists")
					continue
				}
				err = &UpstreamCallError{Upstream: "vector_store", Err: gerr}
				return events, err
			}
			embedding, ok := factEmb[action.Text]
			if !ok {
				var eerr error
				embedding, eerr = m.embedder.Embed(ctx, action.Text, embeddings.ActionUpdate)
				if eerr != nil {
					err = &UpstreamCallError{Upstream: "embeddings", Err: eerr}
					return events, err
				}
			}
			now := time.Now().UTC()
			updated := existing
			updated.Text = action.Text
			updated.Hash = store.ComputeTextHash(action.Text)
			updated.UpdatedAt = &now
			if uerr := m.vector.Update(ctx, id, embedding, updated); uerr != nil {
				err = &UpstreamCallError{Upstream: "vector_store", Err: uerr}
				return events, err
			}
			if herr := m.appendHistory(ctx, store.HistoryEntry{
				MemoryID:  id,
				OldMemory: existing.Text,
				NewMemory: action.Text,
				Event:     store.EventUpdate,
				ActorID:   existing.ActorID,
				Role:      existing.Role,
				CreatedAt: now,
				UpdatedAt: &now,
			}); herr != nil {
				err = herr
				return events, err
			}
			events = append(events, MemoryEvent{ID: id, Text: action.Text, Event: store.EventUpdate, OldText: existing.Text})

		case extraction.ActionDelete:
			id, ok := refs.Resolve(action.Ref)
			if !ok {
				m.logger.WithField("ref", action.Ref).Warn("Skipping DELETE with an id outside the candidate set")
				continue
			}
			existing, gerr := m.vector.Get(ctx, id)
			if gerr != nil {
				if errors.Is(gerr, store.ErrNotFound) {
					continue
				}
				err = &UpstreamCallError{Upstream: "vector_store", Err: gerr}
				return events, err
			}
			if derr := m.vector.Delete(ctx, id); derr != nil {
				if errors.Is(derr, store.ErrNotFound) {
					continue
				}
				err = &UpstreamCallError{Upstream: "vector_store", Err: derr}
				return events, err
			}
			now := time.Now().UTC()
			if herr := m.appendHistory(ctx, store.HistoryEntry{
				MemoryID:  id,
				OldMemory: existing.Text,
				Event:     store.EventDelete,
				ActorID:   existing.ActorID,
				Role:      existing.Role,
				CreatedAt: now,
				IsDeleted: true,
			}); herr != nil {
				err = herr
				return events, err
			}
			events = append(events, MemoryEvent{ID: id, Text: existing.Text, Event: store.EventDelete})

		case extraction.ActionNone:
			m.logger.WithField("ref", action.Ref).Debug("Reconciliation kept memory unchanged")
		}
	}
	return events, nil
}

// addVerbatim stores each non-system message as its own memory, skipping
// extraction entirely.
func (m *Memory) addVerbatim(ctx context.Context, ot *opTrace, messages []llm.Message, scope Scope, opts AddOptions) (events []MemoryEvent, err error) {
	span := ot.startSpan("apply")
	defer func() {
		span.finish(err, map[string]int64{"eventCount": int64(len(events))})
	}()

	var provenance []llm.Message
	if opts.Contextual {
		provenance = messages
	}
	metadata := buildMetadata(opts, provenance)

	events = make([]MemoryEvent, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		embedding, eerr := m.embedder.Embed(ctx, msg.Content, embeddings.ActionAdd)
		if eerr != nil {
			err = &UpstreamCallError{Upstream: "embeddings", Err: eerr}
			return events, err
		}
		now := time.Now().UTC()
		record := store.MemoryRecord{
			ID:        uuid.NewString(),
			Text:      msg.Content,
			Hash:      store.ComputeTextHash(msg.Content),
			Scope:     scope,
			ActorID:   msg.Name,
			Role:      msg.Role,
			Metadata:  metadata,
			CreatedAt: now,
		}
		if ierr := m.vector.Insert(ctx, record.ID, embedding, record); ierr != nil {
			err = &UpstreamCallError{Upstream: "vector_store", Err: ierr}
			return events, err
		}
		if herr := m.appendHistory(ctx, store.HistoryEntry{
			MemoryID:  record.ID,
			NewMemory: record.Text,
			Event:     store.EventAdd,
			ActorID:   msg.Name,
			Role:      msg.Role,
			CreatedAt: now,
		}); herr != nil {
			err = herr
			return events, err
		}
		events = append(events, MemoryEvent{ID: record.ID, Text: record.Text, Event: store.EventAdd})
	}
	return events, nil
}

// Search retrieves memories relevant to the query through the staged
// pipeline, with graph relations fetched concurrently when a graph store
// is wired.
func (m *Memory) Search(ctx context.Context, query string, opts SearchOptions) (result *SearchResult, err error) {
	start := time.Now()
	ot := newOpTrace("search")
	ids := map[string]interface{}{}
	defer func() {
		m.observe(ctx, "search", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, ids)
	}()

	if opts.Filters.Scope.IsZero() {
		err = &ValidationError{Msg: scopeRequiredMsg}
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		err = &ValidationError{Msg: "query cannot be empty"}
		return nil, err
	}
	search.ApplyDefaults(&opts)

	var (
		memories  []search.RankedMemory
		relations []store.Relation
	)

	tasks := []runner.Task{func(ctx context.Context) error {
		span := ot.startSpan("retrieve")
		found, rerr := m.pipeline.Retrieve(ctx, query, opts)
		span.finish(rerr, map[string]int64{"resultCount": int64(len(found))})
		if rerr != nil {
			return &UpstreamCallError{Upstream: "search_pipeline", Err: rerr}
		}
		memories = found
		return nil
	}}
	if m.graph != nil {
		tasks = append(tasks, m.graphTask(ot, &relations, func(gctx context.Context) ([]store.Relation, error) {
			return m.graph.Search(gctx, query, opts.Filters, opts.Limit)
		}))
	}

	if err = m.runner.Run(ctx, tasks...); err != nil {
		return nil, err
	}

	ids["resultCount"] = len(memories)
	ids["relationCount"] = len(relations)
	return &SearchResult{Memories: memories, Relations: relations}, nil
}

// Get retrieves a single memory by id.
func (m *Memory) Get(ctx context.Context, id string) (record *MemoryRecord, err error) {
	start := time.Now()
	ot := newOpTrace("get")
	defer func() {
		m.observe(ctx, "get", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, map[string]interface{}{"memoryId": id})
	}()

	if id == "" {
		err = &ValidationError{Msg: "memory id is required"}
		return nil, err
	}
	rec, gerr := m.vector.Get(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, store.ErrNotFound) {
			err = &NotFoundError{ID: id}
		} else {
			err = &UpstreamCallError{Upstream: "vector_store", Err: gerr}
		}
		return nil, err
	}
	return &rec, nil
}

// GetAll lists memories in scope, newest limit records first by store
// order, plus graph relations when a graph store is wired. A non-positive
// limit applies the default of 100.
func (m *Memory) GetAll(ctx context.Context, filters Filters, limit int) (result *ListResult, err error) {
	start := time.Now()
	ot := newOpTrace("get_all")
	ids := map[string]interface{}{}
	defer func() {
		m.observe(ctx, "get_all", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, ids)
	}()

	if filters.Scope.IsZero() {
		err = &ValidationError{Msg: scopeRequiredMsg}
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		records   []store.MemoryRecord
		relations []store.Relation
	)

	tasks := []runner.Task{func(ctx context.Context) error {
		span := ot.startSpan("list")
		found, lerr := m.vector.List(ctx, filters, limit)
		span.finish(lerr, map[string]int64{"resultCount": int64(len(found))})
		if lerr != nil {
			return &UpstreamCallError{Upstream: "vector_store", Err: lerr}
		}
		records = found
		return nil
	}}
	if m.graph != nil {
		tasks = append(tasks, m.graphTask(ot, &relations, func(gctx context.Context) ([]store.Relation, error) {
			return m.graph.GetAll(gctx, filters, limit)
		}))
	}

	if err = m.runner.Run(ctx, tasks...); err != nil {
		return nil, err
	}

	ids["resultCount"] = len(records)
	ids["relationCount"] = len(relations)
	return &ListResult{Memories: records, Relations: relations}, nil
}

// Update replaces a memory's text, re-embeds it and logs the change.
// Scope, actor, role and creation time are preserved. A non-nil metadata
// replaces the stored metadata wholesale.
func (m *Memory) Update(ctx context.Context, id, text string, metadata map[string]any) (record *MemoryRecord, err error) {
	start := time.Now()
	ot := newOpTrace("update")
	defer func() {
		m.observe(ctx, "update", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, map[string]interface{}{"memoryId": id})
	}()

	if id == "" {
		err = &ValidationError{Msg: "memory id is required"}
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		err = &ValidationError{Msg: "memory text cannot be empty"}
		return nil, err
	}

	existing, gerr := m.vector.Get(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, store.ErrNotFound) {
			err = &NotFoundError{ID: id}
		} else {
			err = &UpstreamCallError{Upstream: "vector_store", Err: gerr}
		}
		return nil, err
	}

	embedding, eerr := m.embedder.Embed(ctx, text, embeddings.ActionUpdate)
	if eerr != nil {
		err = &UpstreamCallError{Upstream: "embeddings", Err: eerr}
		return nil, err
	}

	now := time.Now().UTC()
	updated := existing
	updated.Text = text
	updated.Hash = store.ComputeTextHash(text)
	updated.UpdatedAt = &now
	if metadata != nil {
		updated.Metadata = metadata
	}

	if uerr := m.vector.Update(ctx, id, embedding, updated); uerr != nil {
		if errors.Is(uerr, store.ErrNotFound) {
			err = &NotFoundError{ID: id}
		} else {
			err = &UpstreamCallError{Upstream: "vector_store", Err: uerr}
		}
		return nil, err
	}

	if herr := m.appendHistory(ctx, store.HistoryEntry{
		MemoryID:  id,
		OldMemory: existing.Text,
		NewMemory: text,
		Event:     store.EventUpdate,
		ActorID:   existing.ActorID,
		Role:      existing.Role,
		CreatedAt: now,
		UpdatedAt: &now,
	}); herr != nil {
		err = herr
		return nil, err
	}
	return &updated, nil
}

// Delete removes a memory and logs a tombstone history entry carrying the
// deleted text.
func (m *Memory) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	ot := newOpTrace("delete")
	defer func() {
		m.observe(ctx, "delete", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, map[string]interface{}{"memoryId": id})
	}()

	if id == "" {
		err = &ValidationError{Msg: "memory id is required"}
		return err
	}

	existing, gerr := m.vector.Get(ctx, id)
	if gerr != nil {
		if errors.Is(gerr, store.ErrNotFound) {
			err = &NotFoundError{ID: id}
		} else {
			err = &UpstreamCallError{Upstream: "vector_store", Err: gerr}
		}
		return err
	}

	if derr := m.vector.Delete(ctx, id); derr != nil {
		if errors.Is(derr, store.ErrNotFound) {
			err = &NotFoundError{ID: id}
		} else {
			err = &UpstreamCallError{Upstream: "vector_store", Err: derr}
		}
		return err
	}

	if herr := m.appendHistory(ctx, store.HistoryEntry{
		MemoryID:  id,
		OldMemory: existing.Text,
		Event:     store.EventDelete,
		ActorID:   existing.ActorID,
		Role:      existing.Role,
		CreatedAt: time.Now().UTC(),
		IsDeleted: true,
	}); herr != nil {
		err = herr
		return err
	}
	return nil
}

// DeleteAll removes every memory in scope, logging a tombstone per record,
// and clears the scope's graph relations when a graph store is wired.
func (m *Memory) DeleteAll(ctx context.Context, filters Filters) (err error) {
	start := time.Now()
	ot := newOpTrace("delete_all")
	ids := map[string]interface{}{}
	defer func() {
		m.observe(ctx, "delete_all", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, ids)
	}()

	if filters.Scope.IsZero() {
		err = &ValidationError{Msg: scopeRequiredMsg}
		return err
	}

	var deleted int64
	tasks := []runner.Task{func(ctx context.Context) (terr error) {
		span := ot.startSpan("delete")
		defer func() {
			span.finish(terr, map[string]int64{"deletedCount": deleted})
		}()

		records, lerr := m.vector.List(ctx, filters, 0)
		if lerr != nil {
			return &UpstreamCallError{Upstream: "vector_store", Err: lerr}
		}
		for _, rec := range records {
			if derr := m.vector.Delete(ctx, rec.ID); derr != nil {
				if errors.Is(derr, store.ErrNotFound) {
					continue
				}
				return &UpstreamCallError{Upstream: "vector_store", Err: derr}
			}
			if herr := m.appendHistory(ctx, store.HistoryEntry{
				MemoryID:  rec.ID,
				OldMemory: rec.Text,
				Event:     store.EventDelete,
				ActorID:   rec.ActorID,
				Role:      rec.Role,
				CreatedAt: time.Now().UTC(),
				IsDeleted: true,
			}); herr != nil {
				return herr
			}
			deleted++
		}
		return nil
	}}
	if m.graph != nil {
		tasks = append(tasks, func(gctx context.Context) error {
			span := ot.startSpan("graph")
			tctx, cancel := context.WithTimeout(gctx, m.config.GraphTimeout)
			defer cancel()
			gerr := m.graph.DeleteAll(tctx, filters)
			span.finish(gerr, nil)
			if gerr != nil {
				m.logger.WithError(gerr).Warn("Graph store call failed, relations left behind")
				m.metrics.RecordError(gctx, "graph", ClassifyError(gerr))
			}
			return nil
		})
	}

	if err = m.runner.Run(ctx, tasks...); err != nil {
		return err
	}

	ids["deletedCount"] = deleted
	m.logger.WithField("deleted", deleted).Info("Deleted all memories in scope")
	return nil
}

// History returns the change log for one memory, oldest event first. A
// memory with no recorded events yields an empty list.
func (m *Memory) History(ctx context.Context, memoryID string) (entries []HistoryEntry, err error) {
	start := time.Now()
	ot := newOpTrace("history")
	ids := map[string]interface{}{"memoryId": memoryID}
	defer func() {
		m.observe(ctx, "history", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, ids)
	}()

	if memoryID == "" {
		err = &ValidationError{Msg: "memory id is required"}
		return nil, err
	}

	entries, qerr := m.history.Query(ctx, memoryID)
	if qerr != nil {
		err = &UpstreamCallError{Upstream: "history_store", Err: qerr}
		return nil, err
	}
	ids["entryCount"] = len(entries)
	return entries, nil
}

// Reset drops every memory, the full history log and the contextual cache.
// Graph relations are left to the graph store's own lifecycle since reset
// carries no scope to delete by.
func (m *Memory) Reset(ctx context.Context) (err error) {
	start := time.Now()
	ot := newOpTrace("reset")
	defer func() {
		m.observe(ctx, "reset", start, err)
		ot.finish(ctx, m.tracer, m.logger, err, nil)
	}()

	if derr := m.vector.DeleteCollection(ctx); derr != nil {
		err = &UpstreamCallError{Upstream: "vector_store", Err: derr}
		return err
	}
	if rerr := m.history.Reset(ctx); rerr != nil {
		err = &UpstreamCallError{Upstream: "history_store", Err: rerr}
		return err
	}
	m.cache.Reset()
	m.logger.Info("Memory store reset")
	return nil
}

// graphTask wraps a relation-producing graph call as a recovered task:
// failures log and leave relations empty rather than failing the joined
// operation. Each call gets its own timeout so a stalled graph backend
// cannot hold the whole operation open.
func (m *Memory) graphTask(ot *opTrace, out *[]store.Relation, call func(ctx context.Context) ([]store.Relation, error)) runner.Task {
	return func(ctx context.Context) error {
		span := ot.startSpan("graph")
		gctx, cancel := context.WithTimeout(ctx, m.config.GraphTimeout)
		defer cancel()

		relations, err := call(gctx)
		span.finish(err, map[string]int64{"relationCount": int64(len(relations))})
		if err != nil {
			m.logger.WithError(err).Warn("Graph store call failed, continuing without relations")
			m.metrics.RecordError(ctx, "graph", ClassifyError(err))
			return nil
		}
		*out = relations
		return nil
	}
}

// appendHistory writes one change event with a fresh entry id.
func (m *Memory) appendHistory(ctx context.Context, entry store.HistoryEntry) error {
	entry.ID = uuid.NewString()
	if aerr := m.history.Append(ctx, entry); aerr != nil {
		return &UpstreamCallError{Upstream: "history_store", Err: aerr}
	}
	return nil
}

// observe records the operation metric and, on failure, its classified
// error type.
func (m *Memory) observe(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.metrics.RecordError(ctx, operation, ClassifyError(err))
	}
	m.metrics.RecordOperation(ctx, operation, status, time.Since(start).Milliseconds())
}

// buildMetadata merges caller metadata with contextual provenance. The
// original turn messages ride along on contextually added records so later
// cache rebuilds can replay them.
func buildMetadata(opts AddOptions, original []llm.Message) map[string]any {
	if len(opts.Metadata) == 0 && len(original) == 0 {
		return nil
	}
	md := make(map[string]any, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		md[k] = v
	}
	if len(original) > 0 {
		md[cache.OriginalMessagesKey] = original
	}
	return md
}
