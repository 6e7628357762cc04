package music

import (
	"context"
	"fmt"

	evbus "github.com/asaskevich/EventBus"

	"koemuse-server/internal/domain/emotion"
	"koemuse-server/internal/platform/logging"
	"koemuse-server/internal/platform/storage"
)

// Bus topics for generation outcomes. Dispatch runs out of band from the
// relay loop; subscribers receive exactly one of these per dispatch.
const (
	TopicGenerated       = "music.generated"
	TopicGenerationError = "music.generation_error"
)

// Generated is the payload published on TopicGenerated.
type Generated struct {
	SessionID       string
	OriginalText    string
	DetectedEmotion emotion.Label
	MusicURL        string
}

// GenerationFailure is the payload published on TopicGenerationError.
type GenerationFailure struct {
	SessionID string
	Message   string
}

// Dispatcher runs the text-to-music pipeline for a final transcript:
// classify, build the instruction, call the music endpoint, resolve the
// artifact URL, persist the record, publish the outcome.
type Dispatcher struct {
	client *Client
	store  *FileStore
	repo   storage.GenerationRepository
	bus    evbus.Bus
	logger *logging.Logger

	durationSeconds int
}

// NewDispatcher wires the pipeline.
func NewDispatcher(client *Client, store *FileStore, repo storage.GenerationRepository, bus evbus.Bus, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		client:          client,
		store:           store,
		repo:            repo,
		bus:             bus,
		logger:          logger,
		durationSeconds: client.cfg.DurationSeconds,
	}
}

// Dispatch processes one final transcript. Errors are reported over the
// bus; callers do not observe them directly.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID, text string) {
	label := emotion.Classify(text)
	d.logger.InfoTag("Emotion", "session %s classified as %s", sessionID, label)

	instruction := BuildInstruction(text, label)
	d.logger.InfoTag("Music", "session %s generation prompt: %q", sessionID, instruction)

	result, err := d.client.Generate(ctx, instruction)
	if err != nil {
		d.logger.ErrorTag("Music", "session %s generation failed: %v", sessionID, err)
		d.fail(sessionID, fmt.Sprintf("音楽の生成中にエラーが発生しました: %v", err))
		return
	}

	musicURL, duration, err := d.resolveArtifact(result)
	if err != nil {
		d.logger.ErrorTag("Music", "session %s artifact resolution failed: %v", sessionID, err)
		d.fail(sessionID, "音楽生成APIからの応答形式が不正です。")
		return
	}

	record := &storage.MusicGeneration{
		OriginalText:      text,
		DetectedEmotion:   string(label),
		GeneratedMusicURL: musicURL,
		DurationSeconds:   duration,
	}
	if err := d.repo.Create(ctx, record); err != nil {
		d.logger.ErrorTag("Storage", "session %s record save failed: %v", sessionID, err)
		d.fail(sessionID, "生成結果の保存に失敗しました。")
		return
	}

	d.logger.InfoTag("Music", "session %s music ready at %s", sessionID, musicURL)
	d.bus.Publish(TopicGenerated, &Generated{
		SessionID:       sessionID,
		OriginalText:    text,
		DetectedEmotion: label,
		MusicURL:        musicURL,
	})
}

func (d *Dispatcher) resolveArtifact(result *GenerateResult) (string, float64, error) {
	switch result.Kind {
	case ResultURL:
		return result.URL, float64(d.durationSeconds), nil
	case ResultInlineAudio:
		duration := ProbeMP3Duration(result.Audio)
		if duration == 0 {
			duration = float64(d.durationSeconds)
		}
		_, urlPath, err := d.store.Save(result.Audio, d.client.OutputFormat())
		if err != nil {
			return "", 0, err
		}
		return urlPath, duration, nil
	default:
		return "", 0, fmt.Errorf("response carried neither music_file_url nor audio_data_base64")
	}
}

func (d *Dispatcher) fail(sessionID, message string) {
	d.bus.Publish(TopicGenerationError, &GenerationFailure{SessionID: sessionID, Message: message})
}
