package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/course-review-api/internal/models"
	"github.com/noah-isme/course-review-api/internal/repository"
)

// memoryStore is an in-memory catalogue whose WithinCourse mirrors the
// row-lock transaction: one holder per course, changes visible only on commit.
type memoryStore struct {
	mu      sync.Mutex
	courses map[string]*models.Course
	reviews map[string]models.Review
	users   map[string]string
	locks   map[string]*sync.Mutex

	totalsErr     map[string]error
	saveErr       map[string]error
	saveDelay     time.Duration
	beforeDelete  func()
	activeTx      map[string]int
	maxConcurrent map[string]int
}

func newMemoryStore(codes ...string) *memoryStore {
	s := &memoryStore{
		courses:       make(map[string]*models.Course),
		reviews:       make(map[string]models.Review),
		users:         make(map[string]string),
		locks:         make(map[string]*sync.Mutex),
		totalsErr:     make(map[string]error),
		saveErr:       make(map[string]error),
		activeTx:      make(map[string]int),
		maxConcurrent: make(map[string]int),
	}
	for _, code := range codes {
		s.addCourse(models.Course{Code: code, Name: code + " name", Level: models.LevelUndergraduate})
	}
	return s
}

func (s *memoryStore) addCourse(c models.Course) {
	s.mu.Lock()
	defer s.mu.Unlock()
	course := c
	s.courses[c.Code] = &course
	if _, ok := s.locks[c.Code]; !ok {
		s.locks[c.Code] = &sync.Mutex{}
	}
}

func (s *memoryStore) course(code string) models.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.courses[code]
}

func (s *memoryStore) reviewCount(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reviews {
		if r.CourseCode == code {
			n++
		}
	}
	return n
}

func (s *memoryStore) seedReview(code, author string, ratings models.ReviewRatings) models.Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.Review{
		ID:               uuid.NewString(),
		CourseCode:       code,
		CourseName:       s.courses[code].Name,
		AuthorID:         author,
		AuthorName:       author,
		ReviewRatings:    ratings,
		CourseCompletion: "2025-AUTUMN",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	s.reviews[r.ID] = r
	s.users[author] = author
	return r
}

func (s *memoryStore) WithinCourse(ctx context.Context, code string, fn func(repository.CourseTx) error) error {
	s.mu.Lock()
	lock, ok := s.locks[code]
	s.mu.Unlock()
	if !ok {
		return sql.ErrNoRows
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	stored, ok := s.courses[code]
	if !ok {
		s.mu.Unlock()
		return sql.ErrNoRows
	}
	tx := &memoryTx{store: s, course: *stored, reviews: make(map[string]models.Review)}
	for id, r := range s.reviews {
		if r.CourseCode == code {
			tx.reviews[id] = r
		}
	}
	s.activeTx[code]++
	if s.activeTx[code] > s.maxConcurrent[code] {
		s.maxConcurrent[code] = s.activeTx[code]
	}
	s.mu.Unlock()

	err := fn(tx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTx[code]--
	if err != nil {
		return err
	}
	for id, r := range s.reviews {
		if r.CourseCode == code {
			delete(s.reviews, id)
		}
	}
	for id, r := range tx.reviews {
		s.reviews[id] = r
	}
	s.courses[code].CourseAggregate = tx.course.CourseAggregate
	return nil
}

type memoryTx struct {
	store   *memoryStore
	course  models.Course
	reviews map[string]models.Review
}

func (t *memoryTx) Course() *models.Course { return &t.course }

func (t *memoryTx) EnsureAuthor(ctx context.Context, id, username string) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.users[id] = username
	return nil
}

func (t *memoryTx) FindReview(ctx context.Context, id string) (*models.Review, error) {
	r, ok := t.reviews[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (t *memoryTx) FindReviewByAuthor(ctx context.Context, authorID string) (*models.Review, error) {
	for _, r := range t.reviews {
		if r.AuthorID == authorID {
			found := r
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memoryTx) InsertReview(ctx context.Context, review *models.Review) error {
	for _, r := range t.reviews {
		if r.AuthorID == review.AuthorID {
			return repository.ErrDuplicate
		}
	}
	if review.ID == "" {
		review.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	review.CourseCode = t.course.Code
	review.CourseName = t.course.Name
	review.CreatedAt = now
	review.UpdatedAt = now
	t.reviews[review.ID] = *review
	return nil
}

func (t *memoryTx) UpdateReview(ctx context.Context, review *models.Review) error {
	existing, ok := t.reviews[review.ID]
	if !ok {
		return sql.ErrNoRows
	}
	review.CreatedAt = existing.CreatedAt
	review.UpdatedAt = time.Now().UTC()
	t.reviews[review.ID] = *review
	return nil
}

func (t *memoryTx) DeleteReview(ctx context.Context, id string) error {
	if _, ok := t.reviews[id]; !ok {
		return sql.ErrNoRows
	}
	delete(t.reviews, id)
	return nil
}

func (t *memoryTx) RatingTotals(ctx context.Context) (models.RatingTotals, error) {
	t.store.mu.Lock()
	err := t.store.totalsErr[t.course.Code]
	t.store.mu.Unlock()
	if err != nil {
		return models.RatingTotals{}, err
	}
	var totals models.RatingTotals
	for _, r := range t.reviews {
		totals = totals.Add(r.ReviewRatings)
	}
	return totals, nil
}

func (t *memoryTx) SaveAggregate(ctx context.Context, agg models.CourseAggregate) error {
	t.store.mu.Lock()
	err := t.store.saveErr[t.course.Code]
	delay := t.store.saveDelay
	t.store.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}
	t.course.CourseAggregate = agg
	return nil
}

// Read side, outside any course lock.

func (s *memoryStore) FindByID(ctx context.Context, id string) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (s *memoryStore) FindByCourseAndAuthor(ctx context.Context, code, authorID string) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.CourseCode == code && r.AuthorID == authorID {
			found := r
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memoryStore) ListByAuthor(ctx context.Context, authorID string) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Review
	for _, r := range s.reviews {
		if r.AuthorID == authorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) CourseCodesByAuthor(ctx context.Context, authorID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.reviews {
		if r.AuthorID == authorID {
			out = append(out, r.CourseCode)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	hook := s.beforeDelete
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return sql.ErrNoRows
	}
	for _, r := range s.reviews {
		if r.AuthorID == id {
			return repository.ErrReviewsRemain
		}
	}
	delete(s.users, id)
	return nil
}

func (s *memoryStore) Codes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.courses))
	for code := range s.courses {
		out = append(out, code)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) AggregateSnapshots(ctx context.Context) ([]repository.AggregateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.AggregateSnapshot, 0, len(s.courses))
	for code, c := range s.courses {
		snap := repository.AggregateSnapshot{Code: code, Stored: c.CourseAggregate}
		for _, r := range s.reviews {
			if r.CourseCode == code {
				snap.Live = snap.Live.Add(r.ReviewRatings)
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memoryStore) maxConcurrentTx(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxConcurrent[code]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, payload)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}
