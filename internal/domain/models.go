package domain

// LectureStatus tracks a lecture through the processing pipeline.
type LectureStatus string

const (
	StatusRecorded   LectureStatus = "recorded"
	StatusProcessing LectureStatus = "processing"
	StatusProcessed  LectureStatus = "processed"
	StatusFailed     LectureStatus = "failed"
)

// ProcessingStep identifies one sequential stage of the pipeline.
type ProcessingStep string

const (
	StepTitleGeneration ProcessingStep = "title_generation"
	StepTranscription   ProcessingStep = "transcription"
	StepStudyMaterials  ProcessingStep = "study_materials"
	StepAssembly        ProcessingStep = "assembly"
)

// Lecture is the central record: one recording or photo-capture session
// and everything derived from it.
type Lecture struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Date          int64         `json:"date"`
	AudioURI      string        `json:"audioUri,omitempty"`
	PhotoURIs     []string      `json:"photoUris,omitempty"`
	Duration      int           `json:"duration"`
	Transcription string        `json:"transcription,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	Flashcards    []Flashcard   `json:"flashcards,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Status        LectureStatus `json:"status"`
	FolderID      string        `json:"folderId,omitempty"`
	ChatHistory   []ChatMessage `json:"chatHistory,omitempty"`

	// Failure metadata, meaningful only while Status == StatusFailed.
	ErrorMessage       string         `json:"errorMessage,omitempty"`
	LastProcessingStep ProcessingStep `json:"lastProcessingStep,omitempty"`

	// LastCompletedStep is the explicit resume marker: a retry starts at
	// the stage after it instead of inferring position from which output
	// fields happen to be populated.
	LastCompletedStep ProcessingStep `json:"lastCompletedStep,omitempty"`
}

type Folder struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

type Flashcard struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

// StudyMaterials is the parsed payload of one generation call: the three
// fields that make a Learning Pack complete.
type StudyMaterials struct {
	Summary    string      `json:"summary"`
	Flashcards []Flashcard `json:"flashcards"`
	Notes      string      `json:"notes"`
}

// TimestampReference points a chat answer back at a span of the lecture.
type TimestampReference struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

type ChatMessage struct {
	ID         string               `json:"id"`
	Role       string               `json:"role"` // "user" or "assistant"
	Content    string               `json:"content"`
	Timestamp  int64                `json:"timestamp"`
	References []TimestampReference `json:"references,omitempty"`
}

// QuestionType enumerates the two quiz question kinds the pipeline
// generates; nothing else is accepted from the model.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
)

type LessonQuestion struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Question      string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
}

// Lesson is an optional personalized quiz derived from a processed lecture.
type Lesson struct {
	ID                string           `json:"id"`
	LectureID         string           `json:"lectureId"`
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Content           string           `json:"content"`
	Questions         []LessonQuestion `json:"questions"`
	EstimatedDuration int              `json:"estimatedDuration"` // minutes
	CreatedAt         int64            `json:"createdAt"`
	Completed         bool             `json:"completed"`
	Score             *int             `json:"score,omitempty"` // 0-100
	CompletedAt       *int64           `json:"completedAt,omitempty"`
}

// LessonDraft is what the Gateway parses out of a generation response,
// before the generator assigns ids and persists.
type LessonDraft struct {
	Title             string           `json:"title"`
	Description       string           `json:"description"`
	Content           string           `json:"content"`
	Questions         []LessonQuestion `json:"questions"`
	EstimatedDuration int              `json:"estimatedDuration"`
}

// UserProfile is the singleton generation-input record.
type UserProfile struct {
	Age                 *int     `json:"age,omitempty"`
	Interests           []string `json:"interests,omitempty"`
	Language            string   `json:"language,omitempty"`
	OnboardingCompleted bool     `json:"onboardingCompleted"`
	UpdatedAt           int64    `json:"updatedAt"`
}

// ProcessingProgress describes pipeline position for UI consumption. It is
// transient: rebuilt on every stage transition, never persisted.
type ProcessingProgress struct {
	CurrentStep ProcessingStep `json:"currentStep"`
	StepNumber  int            `json:"stepNumber"`
	TotalSteps  int            `json:"totalSteps"`
	StepName    string         `json:"stepName"`
	Progress    int            `json:"progress"` // 0-100
	Message     string         `json:"message,omitempty"`
}

// LearningPackStatus reports per-field completeness of a lecture's pack.
type LearningPackStatus struct {
	HasSummary           bool `json:"hasSummary"`
	HasFlashcards        bool `json:"hasFlashcards"`
	HasNotes             bool `json:"hasNotes"`
	CompletionPercentage int  `json:"completionPercentage"`
	IsComplete           bool `json:"isComplete"`
}
