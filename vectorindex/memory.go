package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/athrael-soju/snappy/model"
)

// Memory is an in-memory Index implementation.
//
// It exists for tests and local development and implements the full
// contract: named spaces, MaxSim scoring for multi-vector spaces, equality
// filters backed by roaring bitmaps, optional binary quantization with
// oversampling/rescore, idempotent upsert and scroll.
//
// Thread-safe for concurrent readers and writers.
type Memory struct {
	mu     sync.RWMutex
	exists bool
	schema Schema

	points map[string]*storedPoint
	rows   []string // row id -> point id, "" when vacated
	rowOf  map[string]uint32
	fields map[string]map[string]*roaring.Bitmap
	all    *roaring.Bitmap
}

type storedPoint struct {
	point model.Point
	row   uint32
	// codes are sign-bit packed token vectors per quantized multi space.
	codes map[string][][]uint64
	// singleCodes are sign-bit packed vectors per quantized single space.
	singleCodes map[string][]uint64
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{
		points: make(map[string]*storedPoint),
		rowOf:  make(map[string]uint32),
		fields: make(map[string]map[string]*roaring.Bitmap),
		all:    roaring.New(),
	}
}

// Ensure implements Index.
func (m *Memory) Ensure(_ context.Context, schema Schema) error {
	if schema.Dim <= 0 {
		return fmt.Errorf("invalid schema dimension %d", schema.Dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.exists {
		m.schema = schema.Clone()
		m.exists = true
		return nil
	}

	if m.schema.Dim != schema.Dim {
		return fmt.Errorf("schema dimension mismatch: have %d, want %d", m.schema.Dim, schema.Dim)
	}
	for name := range schema.Multi {
		if _, ok := m.schema.Multi[name]; !ok {
			return fmt.Errorf("multi-vector space %q missing from existing collection", name)
		}
	}
	// Newly enabled single-vector spaces extend the collection in place.
	for name, sp := range schema.Single {
		if _, ok := m.schema.Single[name]; !ok {
			if m.schema.Single == nil {
				m.schema.Single = make(map[string]SingleSpace)
			}
			m.schema.Single[name] = sp
		}
	}
	return nil
}

// Info implements Index.
func (m *Memory) Info(_ context.Context) (Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return Schema{}, ErrNotFound
	}
	return m.schema.Clone(), nil
}

// Drop implements Index.
func (m *Memory) Drop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = false
	m.schema = Schema{}
	m.points = make(map[string]*storedPoint)
	m.rows = nil
	m.rowOf = make(map[string]uint32)
	m.fields = make(map[string]map[string]*roaring.Bitmap)
	m.all = roaring.New()
	return nil
}

// Count implements Index.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return 0, ErrNotFound
	}
	return len(m.points), nil
}

// Upsert implements Index. Existing ids are overwritten in place.
func (m *Memory) Upsert(_ context.Context, points []model.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return ErrNotFound
	}

	for _, p := range points {
		if err := m.validateDims(p); err != nil {
			return err
		}
	}

	for _, p := range points {
		if old, ok := m.points[p.ID]; ok {
			m.unindexRow(old)
			old.point = p
			old.codes = m.quantizeMulti(p)
			old.singleCodes = m.quantizeSingle(p)
			m.indexRow(old)
			continue
		}

		row := uint32(len(m.rows))
		m.rows = append(m.rows, p.ID)
		sp := &storedPoint{
			point:       p,
			row:         row,
			codes:       m.quantizeMulti(p),
			singleCodes: m.quantizeSingle(p),
		}
		m.points[p.ID] = sp
		m.rowOf[p.ID] = row
		m.all.Add(row)
		m.indexRow(sp)
	}
	return nil
}

func (m *Memory) validateDims(p model.Point) error {
	for name, vecs := range p.Multi {
		if _, ok := m.schema.Multi[name]; !ok {
			return fmt.Errorf("unknown multi-vector space %q", name)
		}
		for _, v := range vecs {
			if len(v) != m.schema.Dim {
				return fmt.Errorf("space %q: vector dimension %d, schema wants %d", name, len(v), m.schema.Dim)
			}
		}
	}
	for name, v := range p.Single {
		sp, ok := m.schema.Single[name]
		if !ok {
			return fmt.Errorf("unknown single-vector space %q", name)
		}
		if sp.Dim > 0 && len(v) != sp.Dim {
			return fmt.Errorf("space %q: vector dimension %d, schema wants %d", name, len(v), sp.Dim)
		}
	}
	return nil
}

func (m *Memory) quantizeMulti(p model.Point) map[string][][]uint64 {
	out := make(map[string][][]uint64)
	for name, sp := range m.schema.Multi {
		if !sp.Quantized {
			continue
		}
		vecs, ok := p.Multi[name]
		if !ok {
			continue
		}
		codes := make([][]uint64, len(vecs))
		for i, v := range vecs {
			codes[i] = signBits(v)
		}
		out[name] = codes
	}
	return out
}

func (m *Memory) quantizeSingle(p model.Point) map[string][]uint64 {
	out := make(map[string][]uint64)
	for name, sp := range m.schema.Single {
		if !sp.Quantized {
			continue
		}
		if v, ok := p.Single[name]; ok {
			out[name] = signBits(v)
		}
	}
	return out
}

func (m *Memory) indexRow(sp *storedPoint) {
	for field, value := range payloadFields(sp.point.Payload) {
		byValue, ok := m.fields[field]
		if !ok {
			byValue = make(map[string]*roaring.Bitmap)
			m.fields[field] = byValue
		}
		bm, ok := byValue[value]
		if !ok {
			bm = roaring.New()
			byValue[value] = bm
		}
		bm.Add(sp.row)
	}
}

func (m *Memory) unindexRow(sp *storedPoint) {
	for field, value := range payloadFields(sp.point.Payload) {
		if byValue, ok := m.fields[field]; ok {
			if bm, ok := byValue[value]; ok {
				bm.Remove(sp.row)
			}
		}
	}
}

// payloadFields enumerates the filterable payload fields.
func payloadFields(p model.Payload) map[string]string {
	return map[string]string{
		"document_id": p.DocumentID,
		"filename":    p.Filename,
	}
}

// DeleteByFilter implements Index.
func (m *Memory) DeleteByFilter(_ context.Context, f Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return ErrNotFound
	}

	rows := m.filteredRowsLocked(f)
	it := rows.Iterator()
	for it.HasNext() {
		row := it.Next()
		id := m.rows[row]
		if id == "" {
			continue
		}
		sp := m.points[id]
		m.unindexRow(sp)
		m.all.Remove(row)
		m.rows[row] = ""
		delete(m.points, id)
		delete(m.rowOf, id)
	}
	return nil
}

// Scroll implements Index.
func (m *Memory) Scroll(_ context.Context, f Filter, limit int, cursor string) ([]model.Point, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, "", ErrNotFound
	}
	if limit <= 0 {
		limit = 100
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid scroll cursor %q", cursor)
		}
		start = n
	}

	rows := m.filteredRowsLocked(f)
	var out []model.Point
	next := ""
	for row := start; row < len(m.rows); row++ {
		if len(out) == limit {
			next = strconv.Itoa(row)
			break
		}
		id := m.rows[row]
		if id == "" || !rows.Contains(uint32(row)) {
			continue
		}
		out = append(out, m.points[id].point)
	}
	return out, next, nil
}

// filteredRowsLocked returns the rows matching f. Caller holds a lock.
func (m *Memory) filteredRowsLocked(f Filter) *roaring.Bitmap {
	if f.IsZero() {
		return m.all.Clone()
	}
	byValue, ok := m.fields[f.Field]
	if !ok {
		return roaring.New()
	}
	bm, ok := byValue[f.Value]
	if !ok {
		return roaring.New()
	}
	out := bm.Clone()
	out.And(m.all)
	return out
}

// Query implements Index.
func (m *Memory) Query(_ context.Context, q Query) ([]model.ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.exists {
		return nil, ErrNotFound
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("query limit must be positive, got %d", q.Limit)
	}

	rows := m.filteredRowsLocked(q.Filter)

	// Stage 1: prefetch candidate ids per space, union the pools.
	var candidates map[string]struct{}
	if len(q.Prefetch) == 0 {
		candidates = make(map[string]struct{}, rows.GetCardinality())
		it := rows.Iterator()
		for it.HasNext() {
			if id := m.rows[it.Next()]; id != "" {
				candidates[id] = struct{}{}
			}
		}
	} else {
		candidates = make(map[string]struct{})
		for _, pf := range q.Prefetch {
			top, err := m.prefetchLocked(pf, rows, q.Params)
			if err != nil {
				return nil, err
			}
			for _, s := range top {
				candidates[s.ID] = struct{}{}
			}
		}
	}

	// Stage 2: rerank candidates on the full representation.
	scored := make([]model.ScoredPoint, 0, len(candidates))
	for id := range candidates {
		sp := m.points[id]
		vecs, ok := sp.point.Multi[q.RerankSpace]
		if !ok {
			continue
		}
		scored = append(scored, model.ScoredPoint{
			ID:      id,
			Score:   maxSim(q.RerankMulti, vecs),
			Payload: sp.point.Payload,
		})
	}
	sortScored(scored)
	if len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	return scored, nil
}

func (m *Memory) prefetchLocked(pf Prefetch, rows *roaring.Bitmap, params SearchParams) ([]model.ScoredPoint, error) {
	limit := pf.Limit
	if limit <= 0 {
		limit = 100
	}

	if _, ok := m.schema.Multi[pf.Space]; ok {
		sp := m.schema.Multi[pf.Space]
		if sp.Quantized && !params.IgnoreQuant {
			return m.quantizedMultiPrefetchLocked(pf, rows, params, limit), nil
		}
		return m.exactMultiPrefetchLocked(pf, rows, limit), nil
	}
	if sp, ok := m.schema.Single[pf.Space]; ok {
		if sp.Quantized && !params.IgnoreQuant {
			return m.quantizedSinglePrefetchLocked(pf, rows, params, limit), nil
		}
		return m.exactSinglePrefetchLocked(pf, rows, limit), nil
	}
	return nil, fmt.Errorf("unknown vector space %q", pf.Space)
}

func (m *Memory) exactMultiPrefetchLocked(pf Prefetch, rows *roaring.Bitmap, limit int) []model.ScoredPoint {
	var scored []model.ScoredPoint
	it := rows.Iterator()
	for it.HasNext() {
		id := m.rows[it.Next()]
		if id == "" {
			continue
		}
		sp := m.points[id]
		vecs, ok := sp.point.Multi[pf.Space]
		if !ok {
			continue
		}
		scored = append(scored, model.ScoredPoint{ID: id, Score: maxSim(pf.Multi, vecs)})
	}
	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func (m *Memory) exactSinglePrefetchLocked(pf Prefetch, rows *roaring.Bitmap, limit int) []model.ScoredPoint {
	var scored []model.ScoredPoint
	it := rows.Iterator()
	for it.HasNext() {
		id := m.rows[it.Next()]
		if id == "" {
			continue
		}
		sp := m.points[id]
		v, ok := sp.point.Single[pf.Space]
		if !ok {
			continue
		}
		scored = append(scored, model.ScoredPoint{ID: id, Score: dot(pf.Single, v)})
	}
	sortScored(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func (m *Memory) quantizedMultiPrefetchLocked(pf Prefetch, rows *roaring.Bitmap, params SearchParams, limit int) []model.ScoredPoint {
	pool := oversampled(limit, params.Oversampling)

	queryCodes := make([][]uint64, len(pf.Multi))
	for i, v := range pf.Multi {
		queryCodes[i] = signBits(v)
	}

	var approx []model.ScoredPoint
	it := rows.Iterator()
	for it.HasNext() {
		id := m.rows[it.Next()]
		if id == "" {
			continue
		}
		sp := m.points[id]
		codes, ok := sp.codes[pf.Space]
		if !ok {
			continue
		}
		approx = append(approx, model.ScoredPoint{ID: id, Score: maxSimCodes(queryCodes, codes, m.schema.Dim)})
	}
	sortScored(approx)
	if len(approx) > pool {
		approx = approx[:pool]
	}

	if !params.Rescore {
		if len(approx) > limit {
			approx = approx[:limit]
		}
		return approx
	}

	rescored := make([]model.ScoredPoint, 0, len(approx))
	for _, s := range approx {
		vecs, ok := m.points[s.ID].point.Multi[pf.Space]
		if !ok {
			continue
		}
		rescored = append(rescored, model.ScoredPoint{ID: s.ID, Score: maxSim(pf.Multi, vecs)})
	}
	sortScored(rescored)
	if len(rescored) > limit {
		rescored = rescored[:limit]
	}
	return rescored
}

func (m *Memory) quantizedSinglePrefetchLocked(pf Prefetch, rows *roaring.Bitmap, params SearchParams, limit int) []model.ScoredPoint {
	pool := oversampled(limit, params.Oversampling)
	queryCode := signBits(pf.Single)

	var approx []model.ScoredPoint
	it := rows.Iterator()
	for it.HasNext() {
		id := m.rows[it.Next()]
		if id == "" {
			continue
		}
		sp := m.points[id]
		code, ok := sp.singleCodes[pf.Space]
		if !ok {
			continue
		}
		approx = append(approx, model.ScoredPoint{ID: id, Score: hammingSim(queryCode, code, len(pf.Single))})
	}
	sortScored(approx)
	if len(approx) > pool {
		approx = approx[:pool]
	}

	if !params.Rescore {
		if len(approx) > limit {
			approx = approx[:limit]
		}
		return approx
	}

	rescored := make([]model.ScoredPoint, 0, len(approx))
	for _, s := range approx {
		if v, ok := m.points[s.ID].point.Single[pf.Space]; ok {
			rescored = append(rescored, model.ScoredPoint{ID: s.ID, Score: dot(pf.Single, v)})
		}
	}
	sortScored(rescored)
	if len(rescored) > limit {
		rescored = rescored[:limit]
	}
	return rescored
}

func oversampled(limit int, factor float64) int {
	if factor <= 1 {
		return limit
	}
	return int(math.Ceil(float64(limit) * factor))
}

func sortScored(s []model.ScoredPoint) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Score > s[j].Score })
}
