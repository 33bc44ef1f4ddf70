package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bizhanchik/Nerdie/internal/domain"
)

// ErrNotFound is returned when a record id has no entry.
var ErrNotFound = errors.New("record not found")

type metaData struct {
	Lectures map[string]domain.Lecture `json:"lectures"`
	Folders  map[string]domain.Folder  `json:"folders"`
	Lessons  map[string]domain.Lesson  `json:"lessons"`
	Profile  *domain.UserProfile       `json:"profile,omitempty"`
}

// Store is the durable record store: one JSON file, whole-record upserts
// keyed by id, no cross-entity transactions.
type Store struct {
	mu   sync.RWMutex
	path string
	data metaData
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := &Store{path: filepath.Join(baseDir, "meta.json")}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = metaData{
		Lectures: map[string]domain.Lecture{},
		Folders:  map[string]domain.Folder{},
		Lessons:  map[string]domain.Lesson{},
	}

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			return s.saveLocked()
		}
		return fmt.Errorf("decode meta file: %w", err)
	}

	s.ensureMaps()
	return nil
}

// Lectures -----------------------------------------------------------------

// ListLectures returns all lectures, most recent first.
func (s *Store) ListLectures() []domain.Lecture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lectures := make([]domain.Lecture, 0, len(s.data.Lectures))
	for _, lec := range s.data.Lectures {
		lectures = append(lectures, lec)
	}
	sort.Slice(lectures, func(i, j int) bool {
		return lectures[i].Date > lectures[j].Date
	})
	return lectures
}

func (s *Store) GetLecture(id string) (domain.Lecture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lec, ok := s.data.Lectures[id]
	if !ok {
		return domain.Lecture{}, fmt.Errorf("lecture %s: %w", id, ErrNotFound)
	}
	return lec, nil
}

// SaveLecture upserts the whole record by id. Last write wins; the pipeline
// guards against concurrent runs on the same id.
func (s *Store) SaveLecture(lec domain.Lecture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureMaps()
	s.data.Lectures[lec.ID] = lec
	return s.saveLocked()
}

func (s *Store) DeleteLecture(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Lectures[id]; !ok {
		return fmt.Errorf("lecture %s: %w", id, ErrNotFound)
	}
	delete(s.data.Lectures, id)

	return s.saveLocked()
}

// Folders ------------------------------------------------------------------

func (s *Store) CreateFolder(name string) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureMaps()
	folder := domain.Folder{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().Unix(),
	}
	s.data.Folders[folder.ID] = folder

	if err := s.saveLocked(); err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

func (s *Store) ListFolders() []domain.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folders := make([]domain.Folder, 0, len(s.data.Folders))
	for _, folder := range s.data.Folders {
		folders = append(folders, folder)
	}
	sort.Slice(folders, func(i, j int) bool {
		return folders[i].CreatedAt > folders[j].CreatedAt
	})
	return folders
}

func (s *Store) GetFolder(id string) (domain.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	folder, ok := s.data.Folders[id]
	if !ok {
		return domain.Folder{}, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	return folder, nil
}

func (s *Store) RenameFolder(id, newName string) (domain.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	folder, ok := s.data.Folders[id]
	if !ok {
		return domain.Folder{}, fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}

	folder.Name = newName
	s.data.Folders[id] = folder

	if err := s.saveLocked(); err != nil {
		return domain.Folder{}, err
	}
	return folder, nil
}

// DeleteFolder removes the folder and detaches its lectures. The folder id
// on a lecture is a weak reference: lectures survive their folder.
func (s *Store) DeleteFolder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Folders[id]; !ok {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}

	for lecID, lec := range s.data.Lectures {
		if lec.FolderID == id {
			lec.FolderID = ""
			s.data.Lectures[lecID] = lec
		}
	}

	delete(s.data.Folders, id)
	return s.saveLocked()
}

// ListLecturesByFolder returns the lectures attached to a folder, most
// recent first.
func (s *Store) ListLecturesByFolder(folderID string) []domain.Lecture {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lectures := make([]domain.Lecture, 0)
	for _, lec := range s.data.Lectures {
		if lec.FolderID == folderID {
			lectures = append(lectures, lec)
		}
	}
	sort.Slice(lectures, func(i, j int) bool {
		return lectures[i].Date > lectures[j].Date
	})
	return lectures
}

// Lessons --------------------------------------------------------------------

func (s *Store) SaveLesson(lesson domain.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureMaps()
	s.data.Lessons[lesson.ID] = lesson
	return s.saveLocked()
}

func (s *Store) GetLesson(id string) (domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lesson, ok := s.data.Lessons[id]
	if !ok {
		return domain.Lesson{}, fmt.Errorf("lesson %s: %w", id, ErrNotFound)
	}
	return lesson, nil
}

// LessonByLecture finds the lesson derived from a lecture, if any. One
// lesson per lecture is the practical shape, not an enforced constraint.
func (s *Store) LessonByLecture(lectureID string) (domain.Lesson, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, lesson := range s.data.Lessons {
		if lesson.LectureID == lectureID {
			return lesson, true
		}
	}
	return domain.Lesson{}, false
}

func (s *Store) ListLessons() []domain.Lesson {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lessons := make([]domain.Lesson, 0, len(s.data.Lessons))
	for _, lesson := range s.data.Lessons {
		lessons = append(lessons, lesson)
	}
	sort.Slice(lessons, func(i, j int) bool {
		return lessons[i].CreatedAt > lessons[j].CreatedAt
	})
	return lessons
}

func (s *Store) DeleteLesson(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Lessons[id]; !ok {
		return fmt.Errorf("lesson %s: %w", id, ErrNotFound)
	}
	delete(s.data.Lessons, id)
	return s.saveLocked()
}

// Profile --------------------------------------------------------------------

// GetProfile returns the singleton profile, or false when onboarding has
// never completed.
func (s *Store) GetProfile() (domain.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data.Profile == nil {
		return domain.UserProfile{}, false
	}
	return *s.data.Profile, true
}

func (s *Store) SaveProfile(profile domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile.UpdatedAt = time.Now().Unix()
	s.data.Profile = &profile
	return s.saveLocked()
}

// ------------------------------------------------------------------------------

func (s *Store) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "meta-*.json")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode meta: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp meta: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace meta file: %w", err)
	}

	return nil
}

func (s *Store) ensureMaps() {
	if s.data.Lectures == nil {
		s.data.Lectures = map[string]domain.Lecture{}
	}
	if s.data.Folders == nil {
		s.data.Folders = map[string]domain.Folder{}
	}
	if s.data.Lessons == nil {
		s.data.Lessons = map[string]domain.Lesson{}
	}

	// Records written before status tracking default to recorded or
	// processed depending on whether a transcription exists.
	for id, lec := range s.data.Lectures {
		if lec.Status == "" {
			status := domain.StatusRecorded
			if lec.Transcription != "" {
				status = domain.StatusProcessed
			}
			lec.Status = status
			s.data.Lectures[id] = lec
		}
	}
}
