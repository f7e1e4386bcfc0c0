package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// memStore is an in-memory Store double with the same ownership-scoping and
// merge semantics as the Firestore implementation.
type memStore struct {
	mu        sync.Mutex
	patients  map[string]*Patient
	studies   map[string]*Study
	series    map[string]*Series
	instances map[string]*Instance

	mergeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		patients:  make(map[string]*Patient),
		studies:   make(map[string]*Study),
		series:    make(map[string]*Series),
		instances: make(map[string]*Instance),
	}
}

func (m *memStore) empty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients) == 0 && len(m.studies) == 0 && len(m.series) == 0 && len(m.instances) == 0
}

func (m *memStore) GetOrCreatePatient(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.patients[p.PatientID]
	if !ok {
		cp := *p
		m.patients[p.PatientID] = &cp
		return nil
	}
	if existing.UserID != p.UserID {
		return &PersistenceError{Op: "get-or-create patient", Err: fmt.Errorf("owned by another user")}
	}
	if existing.Name == "" {
		existing.Name = p.Name
	}
	if existing.Sex == "" {
		existing.Sex = p.Sex
	}
	if existing.Age == "" {
		existing.Age = p.Age
	}
	if existing.Weight == "" {
		existing.Weight = p.Weight
	}
	if existing.EthnicGroup == "" {
		existing.EthnicGroup = p.EthnicGroup
	}
	if existing.BirthDate == "" {
		existing.BirthDate = p.BirthDate
	}
	return nil
}

func (m *memStore) GetOrCreateStudy(ctx context.Context, s *Study) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.studies[s.StudyInstanceUID]; !ok {
		cp := *s
		m.studies[s.StudyInstanceUID] = &cp
	}
	return nil
}

func (m *memStore) GetOrCreateSeries(ctx context.Context, se *Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[se.SeriesInstanceUID]; !ok {
		cp := *se
		m.series[se.SeriesInstanceUID] = &cp
	}
	return nil
}

func (m *memStore) UpsertInstance(ctx context.Context, in *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *in
	m.instances[in.SOPInstanceUID] = &cp
	return nil
}

func (m *memStore) MergeStudyAggregates(ctx context.Context, userID, studyUID string, agg BatchAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeCalls++

	st, ok := m.studies[studyUID]
	if !ok || st.UserID != userID {
		return &PersistenceError{Op: "merge study aggregates", Err: fmt.Errorf("study %s not found", studyUID)}
	}
	if st.InstanceSizes == nil {
		st.InstanceSizes = make(map[string]int64)
	}
	for uid, size := range agg.InstanceSizes {
		st.InstanceSizes[uid] = size
	}
	seen := make(map[string]struct{})
	for _, uid := range st.SeriesInstanceUIDs {
		seen[uid] = struct{}{}
	}
	for _, uid := range agg.SeriesInstanceUIDs {
		if _, ok := seen[uid]; !ok {
			seen[uid] = struct{}{}
			st.SeriesInstanceUIDs = append(st.SeriesInstanceUIDs, uid)
		}
	}
	st.NumSeries = len(st.SeriesInstanceUIDs)
	st.NumInstances = len(st.InstanceSizes)
	var total int64
	for _, size := range st.InstanceSizes {
		total += size
	}
	st.TotalSizeBytes = total
	return nil
}

func (m *memStore) GetPatient(ctx context.Context, userID, patientID string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok || p.UserID != userID {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetStudy(ctx context.Context, userID, studyUID string) (*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.studies[studyUID]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindInstanceByFileKey(ctx context.Context, userID, fileKey string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.instances {
		if in.UserID == userID && in.FileKey == fileKey {
			cp := *in
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListPatients(ctx context.Context, userID string) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Patient
	for _, p := range m.patients {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListStudiesByPatient(ctx context.Context, userID, patientID string) ([]*Study, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Study
	for _, s := range m.studies {
		if s.UserID == userID && s.PatientID == patientID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListSeriesByStudy(ctx context.Context, userID, studyUID string) ([]*Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Series
	for _, se := range m.series {
		if se.UserID == userID && se.StudyInstanceUID == studyUID {
			cp := *se
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ListInstancesByStudy(ctx context.Context, userID, studyUID string) ([]*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Instance
	for _, in := range m.instances {
		if in.UserID == userID && in.StudyInstanceUID == studyUID {
			cp := *in
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SOPInstanceUID < out[j].SOPInstanceUID })
	return out, nil
}

func (m *memStore) CountInstancesBySeries(ctx context.Context, userID, seriesUID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, in := range m.instances {
		if in.UserID == userID && in.SeriesInstanceUID == seriesUID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountSeriesByStudy(ctx context.Context, userID, studyUID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, se := range m.series {
		if se.UserID == userID && se.StudyInstanceUID == studyUID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CountStudiesByPatient(ctx context.Context, userID, patientID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.studies {
		if s.UserID == userID && s.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteInstances(ctx context.Context, userID string, sopUIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range sopUIDs {
		delete(m.instances, uid)
	}
	return nil
}

func (m *memStore) DeleteSeries(ctx context.Context, userID, seriesUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, seriesUID)
	return nil
}

func (m *memStore) DeleteStudy(ctx context.Context, userID, studyUID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.studies, studyUID)
	return nil
}

func (m *memStore) DeletePatient(ctx context.Context, userID, patientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patients, patientID)
	return nil
}

// memBlobs is an in-memory ObjectStore double. failPutSubstr makes Put fail
// for matching keys; failDeleteKeys makes per-key deletes fail (and be
// skipped) during DeleteByPrefix, like a flaky remote store.
type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte

	failPutSubstr  string
	failDeleteKeys map[string]bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (b *memBlobs) Put(ctx context.Context, key string, r io.Reader) error {
	if b.failPutSubstr != "" && strings.Contains(key, b.failPutSubstr) {
		return &StorageError{Op: "put", Key: key, Err: fmt.Errorf("injected put failure")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = bytes.Clone(data)
	return nil
}

func (b *memBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDeleteKeys[key] {
		return &StorageError{Op: "delete", Key: key, Err: fmt.Errorf("injected delete failure")}
	}
	delete(b.objects, key)
	return nil
}

func (b *memBlobs) DeleteByPrefix(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var deleted []string
	for _, k := range keys {
		if b.failDeleteKeys[k] {
			continue
		}
		delete(b.objects, k)
		deleted = append(deleted, k)
	}
	return deleted, nil
}

func (b *memBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}
