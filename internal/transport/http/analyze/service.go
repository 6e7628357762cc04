package analyze

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"koemuse-server/internal/domain/recognition/amivoice"
	"koemuse-server/internal/platform/logging"
)

// fallback when the browser upload carries no filename
const defaultUploadName = "recording_from_browser.wav"

// Recognizer is the asynchronous recognition job API.
type Recognizer interface {
	SubmitJob(ctx context.Context, filename string, audio []byte) (string, error)
	PollJob(ctx context.Context, sessionID string) (*amivoice.JobResult, error)
}

// Composer generates the music prompt and lyrics for a transcript.
type Composer interface {
	MusicPrompt(ctx context.Context, emotionLabel, words string) string
	Lyrics(ctx context.Context, emotionLabel, words string) string
}

// Service is the synchronous analyze-and-create flow: one uploaded audio
// file in, transcript plus sentiment plus generated prompt and lyrics out.
// Each request blocks on the vendor's polling cycle and shares no state
// with the streaming relay.
type Service struct {
	recognizer Recognizer
	composer   Composer
	logger     *logging.Logger
}

// NewService builds the analyze service.
func NewService(recognizer Recognizer, composer Composer, logger *logging.Logger) *Service {
	return &Service{
		recognizer: recognizer,
		composer:   composer,
		logger:     logger,
	}
}

// Register mounts the analyze route on the engine root.
func (s *Service) Register(router gin.IRouter) {
	router.POST("/analyze_and_create", s.handleAnalyzeAndCreate)
}

type analyzeResponse struct {
	Transcription string `json:"transcription"`
	Emotion       string `json:"emotion"`
	MusicPrompt   string `json:"music_prompt"`
	Lyrics        string `json:"lyrics"`
}

// analyzeError is the endpoint's own failure body. This route predates the
// enveloped /api group and its clients parse the flat shape.
type analyzeError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Service) handleAnalyzeAndCreate(c *gin.Context) {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, analyzeError{Error: "音声ファイルが見つかりません"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, analyzeError{Error: "音声ファイルを読み込めませんでした"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, analyzeError{Error: "音声ファイルを読み込めませんでした"})
		return
	}

	filename := fileHeader.Filename
	if filename == "" {
		filename = defaultUploadName
	}

	ctx := c.Request.Context()
	sessionID, err := s.recognizer.SubmitJob(ctx, filename, audio)
	if err != nil {
		s.respondRecognitionError(c, err)
		return
	}
	s.logger.InfoTag("ASR", "analyze request accepted, job %s", sessionID)

	result, err := s.recognizer.PollJob(ctx, sessionID)
	if err != nil {
		s.respondRecognitionError(c, err)
		return
	}

	transcription := result.Text
	emotionLabel := result.FirstSentiment()
	s.logger.InfoTag("ASR", "job %s transcript %q, sentiment %s", sessionID, transcription, emotionLabel)

	// the two generation calls degrade independently to inline error text
	musicPrompt := s.composer.MusicPrompt(ctx, emotionLabel, transcription)
	lyrics := s.composer.Lyrics(ctx, emotionLabel, transcription)

	c.JSON(http.StatusOK, analyzeResponse{
		Transcription: transcription,
		Emotion:       emotionLabel,
		MusicPrompt:   musicPrompt,
		Lyrics:        lyrics,
	})
}

func (s *Service) respondRecognitionError(c *gin.Context, err error) {
	s.logger.ErrorTag("ASR", "analyze request failed: %v", err)

	var pollTimeout *amivoice.PollTimeoutError
	var vendorErr *amivoice.VendorError
	switch {
	case errors.Is(err, amivoice.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, analyzeError{
			Error:   "AmiVoice APIキーが無効です",
			Details: err.Error(),
		})
	case errors.As(err, &pollTimeout):
		c.JSON(http.StatusInternalServerError, analyzeError{
			Error:   "音声認識がタイムアウトしました。より短い音声でお試しください",
			Details: err.Error(),
		})
	case errors.As(err, &vendorErr):
		c.JSON(http.StatusInternalServerError, analyzeError{
			Error:   "音声認識に失敗しました",
			Details: vendorErr.Detail,
		})
	default:
		c.JSON(http.StatusInternalServerError, analyzeError{
			Error:   "音声認識リクエストの処理中にエラーが発生しました",
			Details: err.Error(),
		})
	}
}
